// Command ringdemo runs the SPMC broadcast ring and the MPSC request ring
// end to end in a single process: a broadcast producer feeds several
// independent consumers, and several request producers feed one
// consumer, all communicating through POSIX shared memory rather than
// Go channels (scenarios S4 and S5).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sync"

	"code.hybscloud.com/spin"

	"github.com/ggplib/k273/sharedmem"
)

func main() {
	count := flag.Int("count", 20, "messages to publish per ring")
	consumers := flag.Int("consumers", 3, "number of SPMC broadcast consumers")
	producers := flag.Int("producers", 4, "number of MPSC request producers")
	flag.Parse()

	if err := runSPMC(*count, *consumers); err != nil {
		log.Fatalf("ringdemo: spmc: %v", err)
	}
	if err := runMPSC(*count, *producers); err != nil {
		log.Fatalf("ringdemo: mpsc: %v", err)
	}
}

func runSPMC(count, numConsumers int) error {
	const lines = 256
	name := fmt.Sprintf("ringdemo-spmc-%d", os.Getpid())
	mem, err := sharedmem.Create(name, sharedmem.RingRegionSize(lines))
	if err != nil {
		return err
	}
	defer mem.Close()

	producer, err := sharedmem.NewSPMCProducer(mem, lines, true)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for c := 0; c < numConsumers; c++ {
		c := c
		consumer, err := sharedmem.NewSPMCConsumer(mem, lines)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen := 0
			sw := spin.Wait{}
			for seen < count {
				data, ok := consumer.Next(true)
				if !ok {
					sw.Once()
					continue
				}
				seen++
				fmt.Printf("spmc consumer %d saw: %s\n", c, string(data[:len("broadcast 000")]))
			}
		}()
	}

	for i := 0; i < count; i++ {
		msg := fmt.Sprintf("broadcast %03d", i)
		payload, err := producer.Reserve(len(msg))
		if err != nil {
			return err
		}
		copy(payload, msg)
		producer.Publish()
	}

	wg.Wait()
	return nil
}

func runMPSC(count, numProducers int) error {
	const lines = 256
	name := fmt.Sprintf("ringdemo-mpsc-%d", os.Getpid())
	mem, err := sharedmem.Create(name, sharedmem.RingRegionSize(lines))
	if err != nil {
		return err
	}
	defer mem.Close()

	consumer, err := sharedmem.NewMPSCConsumer(mem, lines)
	if err != nil {
		return err
	}

	total := count * numProducers
	done := make(chan struct{})
	go func() {
		seen := 0
		sw := spin.Wait{}
		for seen < total {
			data, ok := consumer.Next()
			if !ok {
				sw.Once()
				continue
			}
			seen++
			fmt.Printf("mpsc consumer saw: %s\n", string(data[:len("request p0-000")]))
			consumer.Consume()
		}
		close(done)
	}()

	var wg sync.WaitGroup
	for p := 0; p < numProducers; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			producer, err := sharedmem.NewMPSCProducer(mem, lines, false)
			if err != nil {
				log.Printf("ringdemo: mpsc producer %d: %v", p, err)
				return
			}
			for i := 0; i < count; i++ {
				msg := fmt.Sprintf("request p%d-%03d", p, i)
				sw := spin.Wait{}
				for {
					payload, err := producer.Reserve(len(msg))
					if err == nil {
						copy(payload, msg)
						producer.Publish()
						break
					}
					sw.Once()
				}
			}
		}()
	}
	wg.Wait()
	<-done
	return nil
}
