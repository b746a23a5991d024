// dtbdump prints what the boot path would learn from a flattened device
// tree: model, cpu count and memory regions. Point it at a blob dumped from
// qemu (-machine virt,dumpdtb=virt.dtb) to check the parser against the real
// firmware's tables.
package main

import (
	"fmt"
	"log"
	"os"

	"rvboot/dtb"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) != 2 {
		log.Fatalf("usage: dtbdump <file.dtb>")
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	blob, err := dtb.Parse(data)
	if err != nil {
		log.Fatal(err)
	}

	h := blob.Header()
	fmt.Printf("version %d, total size %d, boot cpu %d\n", h.Version, h.TotalSize, h.BootCPU)
	if model := blob.Model(); model != "" {
		fmt.Printf("model: %s\n", model)
	}
	fmt.Printf("cpus: %d\n", blob.NumCPUs())

	regions, err := blob.MemoryRegions()
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range regions {
		fmt.Printf("memory %#x size %#x\n", r.Start, r.Size)
	}
}
