package tensor

import (
	"sync"
	"testing"
)

func TestGetScratch(t *testing.T) {
	for _, n := range []int{QK8_0, QK_K, 2 * QK_K} {
		buf, release := getScratch(n)
		if len(buf) != n {
			t.Errorf("Expected buffer size %d, got %d", n, len(buf))
		}
		for i := range buf {
			buf[i] = float32(i)
		}
		release()
	}
}

func TestGetScratchConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf, release := getScratch(QK8_0)
				for k := range buf {
					buf[k] = float32(seed)
				}
				for k := range buf {
					if buf[k] != float32(seed) {
						t.Errorf("Scratch buffer shared between goroutines")
						break
					}
				}
				release()
			}
		}(i)
	}
	wg.Wait()
}
