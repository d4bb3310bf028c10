// Package suballoc implements a two-level sub-allocator for device memory:
// an Allocator owns a growable set of backend-allocated blocks, and
// carves each one into a doubly-linked list of regions handed out to
// callers via Reserve. Backends (Vulkan, CUDA, Metal, OpenCL, WebGPU, or a
// plain host allocator for testing) are supplied entirely through the
// callback tables in callbacks.go; this package never allocates device
// memory itself.
package suballoc
