package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/exitproof/verifier/errs"
	"github.com/exitproof/verifier/log"
)

var clientLog = log.Default().Module("beacon")

// supportedForks are the fork names this daemon knows how to deserialize.
// A fork name outside this set is a fatal UnsupportedFork error.
var supportedForks = map[string]bool{
	"capella": true,
	"deneb":   true,
	"electra": true,
	"fulu":    true,
}

// ClientConfig configures the Beacon State Reader's transport discipline.
type ClientConfig struct {
	Endpoints      []string
	RetryDelay     time.Duration
	ResponseTimeout time.Duration
	MaxRetries     int
	DefaultFork    string
	BlockRootsLen  int // SLOTS_PER_HISTORICAL_ROOT, needed to decode the blockRoots vector
}

// endpointHealth tracks consecutive failures for one configured endpoint so
// a persistently failing endpoint is moved to the end of the next rotation
// order instead of being tried first.
type endpointHealth struct {
	consecutiveFailures int
	skipRotation        bool
}

// Client implements the C1 Beacon State Reader contract: typed fetches of
// headers, blocks, state and genesis/config, with endpoint failover and
// request deduplication.
type Client struct {
	cfg ClientConfig
	hc  *http.Client

	mu       sync.Mutex
	health   []endpointHealth
	sf       singleflight.Group
}

// NewClient constructs a Client with one endpointHealth slot per configured
// endpoint.
func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		hc:     &http.Client{Timeout: cfg.ResponseTimeout},
		health: make([]endpointHealth, len(cfg.Endpoints)),
	}
}

// GenesisInfo is the decoded /eth/v1/beacon/genesis response.
type GenesisInfo struct {
	GenesisTime           Timestamp
	GenesisValidatorsRoot Root
}

// GetGenesis fetches the beacon chain's genesis info.
func (c *Client) GetGenesis(ctx context.Context) (GenesisInfo, error) {
	body, err := c.get(ctx, "/eth/v1/beacon/genesis", "")
	if err != nil {
		return GenesisInfo{}, err
	}
	var resp struct {
		Data struct {
			GenesisTime           string `json:"genesis_time"`
			GenesisValidatorsRoot string `json:"genesis_validators_root"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return GenesisInfo{}, errs.New(errs.KindTransportRetryable, fmt.Errorf("beacon: decode genesis: %w", err))
	}
	gt, err := strconv.ParseUint(resp.Data.GenesisTime, 10, 64)
	if err != nil {
		return GenesisInfo{}, errs.New(errs.KindTransportRetryable, fmt.Errorf("beacon: parse genesis time: %w", err))
	}
	root, err := RootFromHex(resp.Data.GenesisValidatorsRoot)
	if err != nil {
		return GenesisInfo{}, errs.New(errs.KindTransportRetryable, err)
	}
	return GenesisInfo{GenesisTime: Timestamp(gt), GenesisValidatorsRoot: root}, nil
}

// GetConfig fetches the spec constants needed to populate Config (except
// ShardCommitteePeriodInSeconds, which comes from the verifier contract).
func (c *Client) GetConfig(ctx context.Context) (Config, error) {
	body, err := c.get(ctx, "/eth/v1/config/spec", "")
	if err != nil {
		return Config{}, err
	}
	var resp struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Config{}, errs.New(errs.KindTransportRetryable, fmt.Errorf("beacon: decode config: %w", err))
	}
	parseU := func(key string) uint64 {
		v, _ := strconv.ParseUint(resp.Data[key], 10, 64)
		return v
	}
	genesis, err := c.GetGenesis(ctx)
	if err != nil {
		return Config{}, err
	}
	return Config{
		GenesisTime:                   genesis.GenesisTime,
		SecondsPerSlot:                parseU("SECONDS_PER_SLOT"),
		SlotsPerEpoch:                 parseU("SLOTS_PER_EPOCH"),
		SlotsPerHistoricalRoot:        parseU("SLOTS_PER_HISTORICAL_ROOT"),
		CapellaForkEpoch:              Epoch(parseU("CAPELLA_FORK_EPOCH")),
	}, nil
}

// GetHeader fetches a block header by id ("finalized", "head", a slot
// number as a string, or a "0x"-prefixed root). A 404 is surfaced as
// KindSlotSkipped so findNextAvailableSlot can advance past it.
func (c *Client) GetHeader(ctx context.Context, id string) (BeaconBlockHeader, error) {
	body, err := c.get(ctx, "/eth/v1/beacon/headers/"+id, "header:"+id)
	if err != nil {
		return BeaconBlockHeader{}, err
	}
	var resp struct {
		Data struct {
			Root   string `json:"root"`
			Header struct {
				Message struct {
					Slot          string `json:"slot"`
					ProposerIndex string `json:"proposer_index"`
					ParentRoot    string `json:"parent_root"`
					StateRoot     string `json:"state_root"`
					BodyRoot      string `json:"body_root"`
				} `json:"message"`
			} `json:"header"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return BeaconBlockHeader{}, errs.New(errs.KindTransportRetryable, fmt.Errorf("beacon: decode header: %w", err))
	}
	msg := resp.Data.Header.Message
	slot, _ := strconv.ParseUint(msg.Slot, 10, 64)
	proposer, _ := strconv.ParseUint(msg.ProposerIndex, 10, 64)
	root, err := RootFromHex(resp.Data.Root)
	if err != nil {
		return BeaconBlockHeader{}, errs.New(errs.KindTransportRetryable, err)
	}
	parent, err := RootFromHex(msg.ParentRoot)
	if err != nil {
		return BeaconBlockHeader{}, errs.New(errs.KindTransportRetryable, err)
	}
	stateRoot, err := RootFromHex(msg.StateRoot)
	if err != nil {
		return BeaconBlockHeader{}, errs.New(errs.KindTransportRetryable, err)
	}
	bodyRoot, err := RootFromHex(msg.BodyRoot)
	if err != nil {
		return BeaconBlockHeader{}, errs.New(errs.KindTransportRetryable, err)
	}
	return BeaconBlockHeader{
		Root:          root,
		Slot:          Slot(slot),
		ProposerIndex: proposer,
		ParentRoot:    parent,
		StateRoot:     stateRoot,
		BodyRoot:      bodyRoot,
	}, nil
}

// ExecutionBlockHash returns the executionPayload.blockHash embedded in the
// block body at id, used by the Cycle Driver to resolve beacon roots to EL
// block numbers.
func (c *Client) ExecutionBlockHash(ctx context.Context, id string) ([32]byte, error) {
	body, err := c.get(ctx, "/eth/v2/beacon/blocks/"+id, "block:"+id)
	if err != nil {
		return [32]byte{}, err
	}
	var resp struct {
		Data struct {
			Message struct {
				Body struct {
					ExecutionPayload struct {
						BlockHash string `json:"block_hash"`
					} `json:"execution_payload"`
				} `json:"body"`
			} `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return [32]byte{}, errs.New(errs.KindTransportRetryable, fmt.Errorf("beacon: decode block: %w", err))
	}
	r, err := RootFromHex(resp.Data.Message.Body.ExecutionPayload.BlockHash)
	if err != nil {
		return [32]byte{}, errs.New(errs.KindTransportRetryable, err)
	}
	return [32]byte(r), nil
}

// GetState fetches and decodes the SSZ beacon state at id, deduplicating
// concurrent identical requests via singleflight (the accumulation and
// verification passes can both want getState(finalized) within one cycle).
func (c *Client) GetState(ctx context.Context, id string) (*State, error) {
	v, err, _ := c.sf.Do("state:"+id, func() (any, error) {
		body, err := c.getSSZ(ctx, "/eth/v2/debug/beacon/states/"+id, "state:"+id)
		if err != nil {
			return nil, err
		}
		st, decErr := DecodeState(body, c.cfg.BlockRootsLen)
		if decErr != nil {
			return nil, errs.New(errs.KindStateDeserialization, decErr)
		}
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*State), nil
}

// FindNextAvailableSlot advances from startSlot one slot at a time on
// SlotSkipped (404) responses, up to maxAttempts, returning the first slot
// that yields a header. The returned slot may differ from the one
// requested; callers must recompute any timestamp derived from it.
func (c *Client) FindNextAvailableSlot(ctx context.Context, startSlot Slot, maxAttempts int) (Slot, BeaconBlockHeader, error) {
	if maxAttempts <= 0 {
		maxAttempts = 32
	}
	slot := startSlot
	for attempt := 0; attempt < maxAttempts; attempt++ {
		header, err := c.GetHeader(ctx, strconv.FormatUint(uint64(slot), 10))
		if err == nil {
			return slot, header, nil
		}
		if errs.KindOf(err) == errs.KindSlotSkipped {
			slot++
			continue
		}
		return 0, BeaconBlockHeader{}, err
	}
	return 0, BeaconBlockHeader{}, errs.Withf(errs.KindSlotSkipped, "beacon: no available slot found within %d attempts from %d", maxAttempts, startSlot)
}

// get performs a JSON GET against the ordered endpoint list with retry and
// failover, returning the raw response body.
func (c *Client) get(ctx context.Context, path, sfKey string) ([]byte, error) {
	return c.fetch(ctx, path, "application/json")
}

// getSSZ performs a GET requesting the SSZ content type (the CL debug state
// endpoint supports octet-stream SSZ to avoid a large JSON round trip).
func (c *Client) getSSZ(ctx context.Context, path, sfKey string) ([]byte, error) {
	return c.fetch(ctx, path, "application/octet-stream")
}

func (c *Client) fetch(ctx context.Context, path, accept string) ([]byte, error) {
	if len(c.cfg.Endpoints) == 0 {
		return nil, errs.Withf(errs.KindTransportRetryable, "beacon: no endpoints configured")
	}

	var lastErr error
	order := c.rotationOrder()
	for _, idx := range order {
		endpoint := c.cfg.Endpoints[idx]
		for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
			body, status, err := c.doRequest(ctx, endpoint+path, accept)
			if err == nil && status == 404 {
				c.recordSuccess(idx) // transport worked, the resource is simply absent
				return nil, errs.Withf(errs.KindSlotSkipped, "beacon: 404 from %s%s", endpoint, path)
			}
			if err == nil && status >= 200 && status < 300 && len(body) > 0 {
				c.recordSuccess(idx)
				return body, nil
			}
			if err == nil && status >= 200 && status < 300 && len(body) == 0 {
				lastErr = errs.Withf(errs.KindTransportRetryable, "beacon: empty body from %s%s", endpoint, path)
			} else if err != nil {
				lastErr = errs.New(errs.KindTransportRetryable, err)
			} else {
				lastErr = errs.Withf(errs.KindTransportRetryable, "beacon: status %d from %s%s", status, endpoint, path)
			}
			c.recordFailure(idx)
			time.Sleep(c.cfg.RetryDelay)
		}
	}
	clientLog.Warn("all endpoints exhausted", "path", path, "error", lastErr)
	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, url, accept string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", accept)
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// rotationOrder returns endpoint indices in order, with any endpoint
// currently marked skipRotation moved to the end (tried last), and clears
// that mark for the following rotation.
func (c *Client) rotationOrder() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var order []int
	var skipped []int
	for i, h := range c.health {
		if h.skipRotation {
			skipped = append(skipped, i)
			c.health[i].skipRotation = false
		} else {
			order = append(order, i)
		}
	}
	return append(order, skipped...)
}

func (c *Client) recordFailure(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health[idx].consecutiveFailures++
	if c.health[idx].consecutiveFailures >= c.cfg.MaxRetries {
		c.health[idx].skipRotation = true
	}
}

func (c *Client) recordSuccess(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health[idx].consecutiveFailures = 0
}

// CheckFork validates a response's fork header against the supported set,
// falling back to cfg.DefaultFork when absent.
func (c *Client) CheckFork(forkHeader string) (string, error) {
	fork := forkHeader
	if fork == "" {
		fork = c.cfg.DefaultFork
	}
	if !supportedForks[fork] {
		return "", errs.Withf(errs.KindUnsupportedFork, "beacon: unsupported fork %q", fork)
	}
	return fork, nil
}

var _ = bytes.NewReader // keep bytes imported for future multipart SSZ decoding without churn
