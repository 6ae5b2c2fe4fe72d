package sharedmem

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"code.hybscloud.com/spin"

	"github.com/stretchr/testify/require"
)

func newMPSCRing(t *testing.T, lines uint64) (*SharedMemory, *MPSCProducer) {
	t.Helper()
	name := testName(t)
	mem, err := Create(name, RingRegionSize(lines))
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	producer, err := NewMPSCProducer(mem, lines, true)
	require.NoError(t, err)
	return mem, producer
}

// reserveWithRetry loops past ErrWouldBlock, which a lone producer never
// hits but the concurrent-producers test can, since its producers race
// the compare-and-swap on the ring's shared write cursor. Any other
// error is returned to the caller rather than failing the test directly,
// since this helper also runs from non-test goroutines where calling
// t.Fatalf is unsafe.
func reserveWithRetry(p *MPSCProducer, length int) ([]byte, error) {
	sw := spin.Wait{}
	for {
		data, err := p.Reserve(length)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrWouldBlock) {
			sw.Once()
			continue
		}
		return nil, err
	}
}

// TestMPSC_ReserveWriteConsume covers property 7: a value written via
// Reserve/Publish is read back verbatim by Next/Consume.
func TestMPSC_ReserveWriteConsume(t *testing.T) {
	mem, producer := newMPSCRing(t, 8)

	payload, err := reserveWithRetry(producer, 5)
	require.NoError(t, err)
	copy(payload, "hello")
	producer.Publish()

	consumer, err := NewMPSCConsumer(mem, 8)
	require.NoError(t, err)

	data, ok := consumer.Next()
	require.True(t, ok)
	require.Equal(t, "hello", string(data[:5]))
	consumer.Consume()

	_, ok = consumer.Next()
	require.False(t, ok)
}

// TestMPSC_ConcurrentProducersAllDelivered covers property 7 (delivery
// under contention): many goroutines each reserve their own producer
// handle over the same ring and publish distinct messages; the single
// consumer must observe every one exactly once, none lost or duplicated
// despite concurrent CAS races. The 160 one-line messages fit in the 256
// lines without wrapping, and delivery order is not checked.
func TestMPSC_ConcurrentProducersAllDelivered(t *testing.T) {
	const (
		lines      = 256
		numWriters = 8
		perWriter  = 20
		msgLen     = 7 // "w%02d-%03d"
	)
	mem, _ := newMPSCRing(t, lines)

	errs := make(chan error, numWriters)
	var wg sync.WaitGroup
	for w := 0; w < numWriters; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			producer, err := NewMPSCProducer(mem, lines, false)
			if err != nil {
				errs <- err
				return
			}
			for i := 0; i < perWriter; i++ {
				msg := fmt.Sprintf("w%02d-%03d", w, i)
				payload, err := reserveWithRetry(producer, len(msg))
				if err != nil {
					errs <- err
					return
				}
				copy(payload, msg)
				producer.Publish()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	consumer, err := NewMPSCConsumer(mem, lines)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for {
		data, ok := consumer.Next()
		if !ok {
			break
		}
		msg := string(data[:msgLen])
		require.False(t, seen[msg], "message delivered twice: %s", msg)
		seen[msg] = true
		consumer.Consume()
	}

	require.Len(t, seen, numWriters*perWriter)
}

// TestMPSC_ReserveFailsWhenFull covers the queue-full edge case without
// any consumer draining the ring.
func TestMPSC_ReserveFailsWhenFull(t *testing.T) {
	_, producer := newMPSCRing(t, 4)

	var lastErr error
	for i := 0; i < 64; i++ {
		_, err := producer.Reserve(1)
		if err != nil {
			lastErr = err
			break
		}
		producer.Publish()
	}

	require.ErrorIs(t, lastErr, ErrQueueFull)
}
