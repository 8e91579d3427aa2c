package pipeline

import "sync"

// Status is a point-in-time view of run progress served by the status API.
type Status struct {
	RunID           string `json:"run_id"`
	CurrentShop     string `json:"current_shop,omitempty"`
	Phase           string `json:"phase"`
	PendingPages    int    `json:"pending_pages"`
	PendingProducts int    `json:"pending_products"`
	ShopsDone       int    `json:"shops_done"`
}

// statusTracker guards the snapshot: the crawl is single-threaded but the
// status server reads concurrently.
type statusTracker struct {
	mu sync.Mutex
	s  Status
}

func (t *statusTracker) init(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s = Status{RunID: runID, Phase: "idle"}
}

func (t *statusTracker) setPhase(shop, phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.CurrentShop = shop
	t.s.Phase = phase
}

func (t *statusTracker) setPending(pages, products int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.PendingPages = pages
	t.s.PendingProducts = products
}

func (t *statusTracker) shopDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.ShopsDone++
}

// Status returns a copy of the current progress snapshot.
func (p *Pipeline) Status() Status {
	p.status.mu.Lock()
	defer p.status.mu.Unlock()
	return p.status.s
}
