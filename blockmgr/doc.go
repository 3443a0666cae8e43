// Package blockmgr owns the per-chip-select block state of the NAND array:
// which blocks are bad, which are allocated, and which are free. It is the
// only writer of that state and of its durable snapshot.
//
// Initialization loads the persisted snapshot; if the snapshot is missing,
// corrupt, or was taken under a different geometry, the manager rebuilds it
// by probing the attached chips and scanning every block for factory
// bad-block markers, then persists a fresh snapshot before returning.
//
// Every state-changing operation (allocation, release, runtime bad-block
// marking) persists the full snapshot before reporting success, so a
// restart never hands out a block that is already in use and never forgets
// a block that went bad.
//
// Blocks go bad at runtime: a program or erase the chip refuses is answered
// by marking the block bad and reporting false to the caller, who allocates
// a replacement. A bad block never becomes free or allocated again.
package blockmgr
