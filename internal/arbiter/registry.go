package arbiter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ngtfieldbus/trust-broker/internal/acl"
	"github.com/ngtfieldbus/trust-broker/internal/component"
	"github.com/ngtfieldbus/trust-broker/internal/token"
)

// commandQueueCapacity bounds the registry's inbound request channel.
// A full queue back-pressures callers rather than dropping requests.
const commandQueueCapacity = 1000

// sweepInterval is how often the registry logs how many registered
// devices have passed their valid_until deadline. Diagnostic only: an
// expired entry is not evicted, only observed, and still reports
// ttl = 0 from List.
const sweepInterval = 30 * time.Second

type deviceRecord struct {
	label, manufacturer, model string
	port                       uint16
	validUntil                 time.Time
}

// Registry is the single owner of the in-memory device map and the
// signing key. All mutation and every token mint flows through one
// goroutine (Run) consuming a bounded command channel; callers never
// touch the map directly.
type Registry struct {
	minter *token.Minter
	acl    *acl.Database
	clock  token.Clock
	logger *zap.Logger
	metrics Metrics
	audit   AuditPublisher

	cmds chan command
}

// NewRegistry constructs a Registry. Run must be called (typically in
// its own goroutine) before any operation will complete.
func NewRegistry(minter *token.Minter, aclDB *acl.Database, logger *zap.Logger, metrics Metrics, audit AuditPublisher) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if audit == nil {
		audit = NopAuditPublisher{}
	}
	return &Registry{
		minter:  minter,
		acl:     aclDB,
		clock:   minter.Clock,
		logger:  logger,
		metrics: metrics,
		audit:   audit,
		cmds:    make(chan command, commandQueueCapacity),
	}
}

type command interface {
	apply(ctx context.Context, s *registryState)
}

type registryState struct {
	devices map[component.Id]deviceRecord
}

// Run is the actor loop: the sole goroutine that ever reads or writes
// the device map. It exits when ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	state := &registryState{devices: make(map[component.Id]deviceRecord)}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.cmds:
			cmd.apply(ctx, state)
		case <-ticker.C:
			r.sweep(state)
		}
	}
}

func (r *Registry) sweep(state *registryState) {
	now := r.clock.Now()
	expired := 0
	for _, rec := range state.devices {
		if now.After(rec.validUntil) {
			expired++
		}
	}
	if expired > 0 {
		r.logger.Debug("registry sweep: devices past valid_until", zap.Int("expired", expired), zap.Int("total", len(state.devices)))
	}
}

func (r *Registry) send(ctx context.Context, cmd command) error {
	select {
	case r.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- Register ---

type registerCommand struct {
	cid     component.Id
	payload RegisterPayload
	now     time.Time
	reply   chan error
}

func (c *registerCommand) apply(_ context.Context, s *registryState) {
	if _, exists := s.devices[c.cid]; exists {
		c.reply <- fmt.Errorf("a device with this CID already exists")
		return
	}
	s.devices[c.cid] = deviceRecord{
		label:        c.payload.Label,
		manufacturer: c.payload.Manufacturer,
		model:        c.payload.Model,
		port:         c.payload.Port,
		validUntil:   c.now.Add(time.Duration(c.payload.TTL) * time.Second),
	}
	c.reply <- nil
}

// Register inserts a new device record. Returns an error if cid is
// already registered; the existing record is left unchanged.
func (r *Registry) Register(ctx context.Context, cid component.Id, payload RegisterPayload) error {
	reply := make(chan error, 1)
	cmd := &registerCommand{cid: cid, payload: payload, now: r.clock.Now(), reply: reply}
	if err := r.send(ctx, cmd); err != nil {
		return err
	}
	select {
	case err := <-reply:
		if err != nil {
			r.metrics.RegistrationRejected("duplicate_cid")
			return err
		}
		r.metrics.DeviceRegistered()
		r.audit.DeviceRegistered(cid)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- List ---

type listCommand struct {
	now   time.Time
	reply chan []ApiDevice
}

func (c *listCommand) apply(_ context.Context, s *registryState) {
	devices := make([]ApiDevice, 0, len(s.devices))
	for cid, rec := range s.devices {
		ttl := rec.validUntil.Sub(c.now)
		if ttl < 0 {
			ttl = 0
		}
		devices = append(devices, ApiDevice{
			Cid:          cid,
			Label:        rec.label,
			Manufacturer: rec.manufacturer,
			Model:        rec.model,
			Port:         rec.port,
			TTL:          uint64(ttl.Seconds()),
		})
	}
	c.reply <- devices
}

// List returns every currently-registered device.
func (r *Registry) List(ctx context.Context) ([]ApiDevice, error) {
	reply := make(chan []ApiDevice, 1)
	cmd := &listCommand{now: r.clock.Now(), reply: reply}
	if err := r.send(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case devices := <-reply:
		return devices, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// --- ControlToken ---

type controlTokenCommand struct {
	req    ControlTokenRequest
	minter *token.Minter
	aclDB  *acl.Database
	reply  chan controlTokenResult
}

type controlTokenResult struct {
	response ControlTokenResponse
	err      error
}

func (c *controlTokenCommand) apply(_ context.Context, _ *registryState) {
	for _, device := range c.req.Devices {
		if !c.aclDB.AllowsAll(c.req.Cid, device, c.req.ParamsRead, c.req.ParamsWrite) {
			c.reply <- controlTokenResult{err: errForbidden{}}
			return
		}
	}

	tokens := make(map[component.Id]string, len(c.req.Devices))
	for _, device := range c.req.Devices {
		signed, err := c.minter.Mint(c.req.Cid, device, c.req.ParamsRead, c.req.ParamsWrite)
		if err != nil {
			c.reply <- controlTokenResult{err: fmt.Errorf("sign control token: %w", err)}
			return
		}
		tokens[device] = signed
	}
	c.reply <- controlTokenResult{response: ControlTokenResponse{Tokens: tokens}}
}

// errForbidden marks an ACL denial, distinct from an internal signing
// failure, so the CoAP handler can map it to 4.03 rather than 5.00.
type errForbidden struct{}

func (errForbidden) Error() string { return "not authorized for one or more requested parameters" }

// IsForbidden reports whether err is the ACL-denial sentinel returned
// by ControlToken.
func IsForbidden(err error) bool {
	_, ok := err.(errForbidden)
	return ok
}

// ControlToken mints one token per requested device if, and only if,
// every (device, parameter, direction) in the request is ACL-allowed.
// On any denial, zero tokens are minted or returned.
func (r *Registry) ControlToken(ctx context.Context, req ControlTokenRequest) (ControlTokenResponse, error) {
	reply := make(chan controlTokenResult, 1)
	cmd := &controlTokenCommand{req: req, minter: r.minter, aclDB: r.acl, reply: reply}
	if err := r.send(ctx, cmd); err != nil {
		return ControlTokenResponse{}, err
	}
	select {
	case result := <-reply:
		if result.err != nil {
			if IsForbidden(result.err) {
				r.metrics.TokenDenied("acl_denied")
				r.audit.TokenDenied(req.Cid, "acl_denied")
			} else {
				r.metrics.TokenDenied("internal_error")
			}
			return ControlTokenResponse{}, result.err
		}
		r.metrics.TokenMinted()
		for device := range result.response.Tokens {
			r.audit.TokenMinted(req.Cid, device)
		}
		return result.response, nil
	case <-ctx.Done():
		return ControlTokenResponse{}, ctx.Err()
	}
}
