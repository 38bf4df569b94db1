package ledger

import "testing"

func BenchmarkBorrowSharedUncontended(b *testing.B) {
	l := New()
	for i := 0; i < b.N; i++ {
		if !l.TryBorrowShared(7) {
			b.Fatal("uncontended shared borrow failed")
		}
		l.ReleaseShared(7)
	}
}

func BenchmarkBorrowSharedParallel(b *testing.B) {
	l := New()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if l.TryBorrowShared(7) {
				l.ReleaseShared(7)
			}
		}
	})
}
