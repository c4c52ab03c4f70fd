package allocation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	fixtures "github.com/vsinha/fxalloc/pkg/infrastructure/testing"
)

func newBenchService() *Service {
	clock := fixtures.NewClock(fixtures.Day0, time.Millisecond)
	stores := fixtures.BuildStores(clock)
	return NewService(stores.Lots, stores.Demands, stores.Queue, Options{Clock: clock.Now})
}

func benchLots(prefix string, count int, qty string) []fixtures.LotSpec {
	lots := make([]fixtures.LotSpec, count)
	for i := range lots {
		lots[i] = fixtures.LotSpec{ID: fmt.Sprintf("%s-%04d", prefix, i), Currency: "USD", Qty: qty, Rate: "83.10", Minute: i}
	}
	return lots
}

func BenchmarkSubmitDemand_SingleLot(b *testing.B) {
	ctx := context.Background()
	svc := newBenchService()
	if _, err := svc.SubmitSupply(ctx, usdBatch("B-BENCH", 0, benchLots("L", 1, "1000000000000")...)); err != nil {
		b.Fatalf("SubmitSupply failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := svc.SubmitDemand(ctx, DemandRequest{
			Currency: "USD",
			Purpose:  entities.Purchase,
			Qty:      decimal.NewFromInt(1),
			Source:   "BENCHMARK",
		})
		if err != nil {
			b.Fatalf("SubmitDemand failed: %v", err)
		}
	}
}

func BenchmarkSubmitDemand_WalksFiftyLots(b *testing.B) {
	ctx := context.Background()
	svc := newBenchService()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		batch := usdBatch(fmt.Sprintf("B-%d", i), 0, benchLots(fmt.Sprintf("L%d", i), 50, "10")...)
		if _, err := svc.SubmitSupply(ctx, batch); err != nil {
			b.Fatalf("SubmitSupply failed: %v", err)
		}
		b.StartTimer()

		result, err := svc.SubmitDemand(ctx, DemandRequest{
			Currency: "USD",
			Purpose:  entities.Purchase,
			Qty:      decimal.NewFromInt(500),
			Source:   "BENCHMARK",
		})
		if err != nil {
			b.Fatalf("SubmitDemand failed: %v", err)
		}
		if len(result.Allocations) != 50 {
			b.Fatalf("expected 50 allocations, got %d", len(result.Allocations))
		}
	}
}

func BenchmarkSubmitSupply_DrainsHundredQueued(b *testing.B) {
	ctx := context.Background()
	svc := newBenchService()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for d := 0; d < 100; d++ {
			_, err := svc.SubmitDemand(ctx, DemandRequest{
				Currency: "USD",
				Purpose:  entities.Purchase,
				Qty:      decimal.NewFromInt(5),
				Source:   "BENCHMARK",
			})
			if err != nil {
				b.Fatalf("SubmitDemand failed: %v", err)
			}
		}
		batch := usdBatch(fmt.Sprintf("B-%d", i), 0, benchLots(fmt.Sprintf("L%d", i), 1, "500")...)
		b.StartTimer()

		result, err := svc.SubmitSupply(ctx, batch)
		if err != nil {
			b.Fatalf("SubmitSupply failed: %v", err)
		}
		if len(result.QueueAllocations) != 100 {
			b.Fatalf("expected 100 queue allocations, got %d", len(result.QueueAllocations))
		}
	}
}
