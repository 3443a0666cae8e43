// Package nand implements the command-sequencing layer for raw NAND flash
// chips. A Commander translates logical operations (identify, read page,
// program page, erase block) into the chip's command/address/data/status
// phases over a Driver, which abstracts the physical bus. Two drivers exist:
// a file-backed simulator (nand/sim) and a GPIO bit-bang driver (nand/gpio).
//
// Hardware-reported failures (a program or erase that the status register
// flags as failed) are expected events over a chip's lifetime and are
// returned as ordinary boolean results, never as errors. Errors are reserved
// for caller misuse (out-of-range addresses, wrong payload length) and for
// a device that stops answering (ErrDeviceTimeout).
package nand
