package activitypub

import (
	"context"
	"hash/crc32"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/Toromino/kibou-sub000/domain"
	"github.com/Toromino/kibou-sub000/util"
	"github.com/google/uuid"
)

const (
	// deliveryWorkers is the size of the delivery pool. Inboxes are pinned
	// to a worker by hash, so deliveries to one inbox never reorder.
	deliveryWorkers = 4

	// deliveryPollInterval is how often the queue is polled for due items.
	deliveryPollInterval = 10 * time.Second

	// deliveryBatchSize caps how many due items one poll picks up.
	deliveryBatchSize = 50

	// maxDeliveryAttempts is the attempt ceiling before an item is dropped.
	maxDeliveryAttempts = 6

	// deliveryBaseBackoff is the first retry delay; it doubles per attempt.
	deliveryBaseBackoff = 30 * time.Second
)

// StartDeliveryWorker runs the delivery pool until ctx is cancelled.
func StartDeliveryWorker(ctx context.Context, conf *util.AppConfig) {
	StartDeliveryWorkerWithDeps(ctx, conf, DefaultDeps())
}

// StartDeliveryWorkerWithDeps runs the delivery pool with injected
// dependencies. Due queue items are dispatched to a fixed set of workers;
// the worker for an item is chosen by hashing its inbox URI, which keeps
// per-inbox delivery order intact.
func StartDeliveryWorkerWithDeps(ctx context.Context, conf *util.AppConfig, deps *Deps) {
	tasks := make([]chan domain.DeliveryQueueItem, deliveryWorkers)
	var wg sync.WaitGroup

	// inFlight guards against re-dispatching an item that a worker is
	// still busy with when the next poll comes around.
	var mu sync.Mutex
	inFlight := make(map[uuid.UUID]bool)

	for i := range tasks {
		tasks[i] = make(chan domain.DeliveryQueueItem, deliveryBatchSize)
		wg.Add(1)
		go func(queue chan domain.DeliveryQueueItem) {
			defer wg.Done()
			for item := range queue {
				attemptDelivery(conf, deps, &item)
				mu.Lock()
				delete(inFlight, item.Id)
				mu.Unlock()
			}
		}(tasks[i])
	}

	log.Printf("Delivery: Worker pool started (%d workers)", deliveryWorkers)

	ticker := time.NewTicker(deliveryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, queue := range tasks {
				close(queue)
			}
			wg.Wait()
			log.Printf("Delivery: Worker pool stopped")
			return
		case <-ticker.C:
			err, pending := deps.Database.ReadPendingDeliveries(time.Now(), deliveryBatchSize)
			if err != nil {
				log.Printf("Delivery: Failed to read queue: %v", err)
				continue
			}
			for _, item := range pending {
				mu.Lock()
				if inFlight[item.Id] {
					mu.Unlock()
					continue
				}
				inFlight[item.Id] = true
				mu.Unlock()

				worker := crc32.ChecksumIEEE([]byte(item.InboxURI)) % deliveryWorkers
				select {
				case tasks[worker] <- item:
				default:
					// Worker backlog full, leave the item for the next poll
					mu.Lock()
					delete(inFlight, item.Id)
					mu.Unlock()
				}
			}
		}
	}
}

// attemptDelivery signs and POSTs one queue item, then classifies the
// outcome: success and permanent rejections delete the item, transient
// failures reschedule it with exponential backoff.
func attemptDelivery(conf *util.AppConfig, deps *Deps, item *domain.DeliveryQueueItem) {
	err, sender := deps.Database.ReadActorByURI(KeyIdToActorURI(item.KeyId))
	if err != nil || sender == nil || !sender.Local || sender.PrivateKeyPem == "" {
		log.Printf("Delivery: No local signing key for %s, dropping %s", item.KeyId, item.Id)
		deleteQueueItem(deps, item)
		return
	}

	privateKey, err := ParsePrivateKey(sender.PrivateKeyPem)
	if err != nil {
		log.Printf("Delivery: Private key of %s does not parse, dropping %s: %v", sender.ActorURI, item.Id, err)
		deleteQueueItem(deps, item)
		return
	}

	status, err := PostActivity(deps.HTTPClient, item.InboxURI, []byte(item.ActivityJSON), item.KeyId, privateKey)
	if err != nil {
		log.Printf("Delivery: Attempt %d to %s failed: %v", item.Attempts+1, item.InboxURI, err)
		rescheduleOrDrop(deps, item)
		return
	}

	switch {
	case status >= 200 && status <= 299:
		deleteQueueItem(deps, item)
	case status >= 400 && status <= 499 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests:
		// Permanent rejection, retrying would not change the answer
		log.Printf("Delivery: %s rejected delivery with %d, dropping %s", item.InboxURI, status, item.Id)
		deleteQueueItem(deps, item)
	default:
		log.Printf("Delivery: %s answered %d on attempt %d", item.InboxURI, status, item.Attempts+1)
		rescheduleOrDrop(deps, item)
	}
}

func rescheduleOrDrop(deps *Deps, item *domain.DeliveryQueueItem) {
	attempts := item.Attempts + 1
	if attempts >= maxDeliveryAttempts {
		log.Printf("Delivery: Giving up on %s after %d attempts", item.InboxURI, attempts)
		deleteQueueItem(deps, item)
		return
	}

	nextRetry := time.Now().Add(deliveryBackoff(attempts))
	if err := deps.Database.UpdateDeliveryAttempt(item.Id, attempts, nextRetry); err != nil {
		log.Printf("Delivery: Failed to reschedule %s: %v", item.Id, err)
	}
}

func deleteQueueItem(deps *Deps, item *domain.DeliveryQueueItem) {
	if err := deps.Database.DeleteDeliveryQueueItem(item.Id); err != nil {
		log.Printf("Delivery: Failed to delete queue item %s: %v", item.Id, err)
	}
}

// deliveryBackoff returns the delay before the given attempt number:
// 30s doubling per attempt, with ±20% jitter so retry bursts spread out.
func deliveryBackoff(attempts int) time.Duration {
	backoff := deliveryBaseBackoff << (attempts - 1)
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(backoff) * jitter)
}
