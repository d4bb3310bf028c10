package suballoc

import (
	"io"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// DumpJSON writes a structured snapshot of every block and region to w, for
// diagnostics, using jwriter's streaming object/array builders.
func (a *Allocator) DumpJSON(w io.Writer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	blocksArr := obj.Name("blocks").Array()
	for _, block := range a.blocks {
		writeBlockJSON(&blocksArr, block)
	}
	blocksArr.End()
	obj.End()

	if writer.Error() != nil {
		return writer.Error()
	}
	_, err := w.Write(writer.Bytes())
	return err
}

func writeBlockJSON(arr *jwriter.ArrayState, block *BlockResource) {
	obj := arr.Object()
	obj.Name("id").Int(block.id)
	obj.Name("size").Int(block.memory.Size)
	obj.Name("reserved").Int(block.reserved)
	obj.Name("dedicated").Bool(block.memory.Dedicated)

	regionsArr := obj.Name("regions").Array()
	for region := block.regions; region != nil; region = region.next {
		writeRegionJSON(&regionsArr, region)
	}
	regionsArr.End()
	obj.End()
}

func writeRegionJSON(arr *jwriter.ArrayState, region *Region) {
	obj := arr.Object()
	obj.Name("offset").Int(region.offset)
	obj.Name("size").Int(region.size)
	obj.Name("status").String(region.status.String())
	obj.Name("usageCount").Int(int(region.usageCount))
	obj.Name("hasHandle").Bool(region.handle != nil)
	obj.End()
}
