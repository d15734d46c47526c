package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/tessro/avctl/internal/errors"
	"github.com/tessro/avctl/internal/gateway"
)

// StopAll sends Stop to every renderer concurrently. Data lists the
// renderers that acknowledged.
func StopAll(ctx context.Context, gw gateway.ActionGateway, renderers []string) *errors.PartialResult[[]string] {
	result := &errors.PartialResult[[]string]{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range renderers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gw.Invoke(ctx, id, gateway.ServiceAVTransport, gateway.ActionStop, instanceArgs())

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.AddError(fmt.Errorf("%s: %w", id, err))
				return
			}
			result.Data = append(result.Data, id)
		}()
	}
	wg.Wait()
	return result
}
