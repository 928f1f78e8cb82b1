package tensor

import "sync"

// scratchPool holds block-sized dequantization buffers. Every codec's block
// fits in QK_K values.
var scratchPool = sync.Pool{
	New: func() interface{} {
		buf := make([]float32, QK_K)
		return &buf
	},
}

// getScratch returns a buffer of n values and a func that hands it back.
// Contents are undefined; callers overwrite the whole buffer. Requests wider
// than a pooled buffer are allocated and dropped on release.
func getScratch(n int) ([]float32, func()) {
	if n > QK_K {
		return make([]float32, n), func() {}
	}
	bp := scratchPool.Get().(*[]float32)
	return (*bp)[:n], func() { scratchPool.Put(bp) }
}
