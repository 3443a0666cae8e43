// Package mmfile provides platform-specific helpers for memory-mapping the
// simulator's NAND image files. On unix the file is mmap'd read-write and
// flushed with msync; elsewhere a heap buffer stands in and reaches the
// file on Sync or Close.
package mmfile
