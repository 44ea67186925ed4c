// loadgen fires concurrent conflicting quantity writes at one item to
// exercise the version-conflict path end to end.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	itemID := flag.String("item", "wine-rioja-2019", "item to hammer")
	total := flag.Int("n", 50, "total requests")
	flag.Parse()

	var successCount atomic.Int32
	var conflictCount atomic.Int32
	var failCount atomic.Int32

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *total; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			body, _ := json.Marshal(map[string]any{"item_id": *itemID, "quantity": qty})
			resp, err := http.Post(*addr+"/api/stock/quantity", "application/json", bytes.NewReader(body))
			if err != nil {
				failCount.Add(1)
				return
			}
			defer resp.Body.Close()
			switch resp.StatusCode {
			case http.StatusOK, http.StatusAccepted:
				successCount.Add(1)
			case http.StatusConflict:
				conflictCount.Add(1)
			default:
				failCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start)
	fmt.Printf("requests: %d in %s\n", *total, elapsed)
	fmt.Printf("success:  %d\n", successCount.Load())
	fmt.Printf("conflict: %d\n", conflictCount.Load())
	fmt.Printf("failed:   %d\n", failCount.Load())

	if got := successCount.Load() + conflictCount.Load() + failCount.Load(); got != int32(*total) {
		log.Fatalf("accounting mismatch: %d != %d", got, *total)
	}
}
