package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/apathy-ca/sark/internal/adapter"
	"github.com/apathy-ca/sark/internal/audit"
	"github.com/apathy-ca/sark/internal/budget"
	"github.com/apathy-ca/sark/internal/cache"
	"github.com/apathy-ca/sark/internal/classifier"
	"github.com/apathy-ca/sark/internal/cost"
	"github.com/apathy-ca/sark/internal/enforcement"
	"github.com/apathy-ca/sark/internal/policy"
	"github.com/apathy-ca/sark/internal/principal"
	"github.com/apathy-ca/sark/internal/registry"
	"github.com/apathy-ca/sark/internal/sarkerr"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogin mints a token for a principal asserted by the request body.
// SARK never implements an identity provider itself — production
// deployments front this with an OIDC/SAML/LDAP provider and verify its
// tokens directly via internal/principal.Verifier, bypassing this route
// entirely. It exists so a single-node or development deployment with no
// external IdP wired
// can still mint usable tokens, and so `sark token issue` has an
// HTTP-reachable equivalent.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil || len(s.jwtSecret) == 0 {
		writeErr(w, sarkerr.DownstreamUnavailable("no identity provider configured", nil))
		return
	}
	provider := chi.URLParam(r, "provider")

	var body struct {
		Email  string   `json:"email" validate:"required,email"`
		Roles  []string `json:"roles"`
		Groups []string `json:"groups"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	roles := make([]principal.Role, 0, len(body.Roles))
	for _, role := range body.Roles {
		roles = append(roles, principal.Role(role))
	}
	if len(roles) == 0 {
		roles = []principal.Role{principal.RoleAgent}
	}

	p := principal.Principal{
		ID:             body.Email,
		Email:          body.Email,
		Roles:          roles,
		Groups:         body.Groups,
		SourceProvider: provider,
	}

	access, refresh, err := s.issueTokenPair(p)
	if err != nil {
		writeErr(w, sarkerr.Internal("token_issue_failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"user":          p,
	})
}

// handleRefresh exchanges a still-valid refresh token for a fresh pair,
// carrying the same claims forward.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil || len(s.jwtSecret) == 0 {
		writeErr(w, sarkerr.DownstreamUnavailable("no identity provider configured", nil))
		return
	}
	var body struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	p, err := s.verifier.Verify(body.RefreshToken)
	if err != nil {
		writeErr(w, sarkerr.Unauthenticated("invalid or expired refresh token"))
		return
	}

	access, refresh, err := s.issueTokenPair(p)
	if err != nil {
		writeErr(w, sarkerr.Internal("token_issue_failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"user":          p,
	})
}

func (s *Server) issueTokenPair(p principal.Principal) (access, refresh string, err error) {
	access, err = s.verifier.Issue(s.jwtSecret, p, 15*time.Minute)
	if err != nil {
		return "", "", err
	}
	refresh, err = s.verifier.Issue(s.jwtSecret, p, 7*24*time.Hour)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

type serverSpec struct {
	Name         string   `json:"name" validate:"required"`
	Description  string   `json:"description"`
	Transport    string   `json:"transport" validate:"required,oneof=http grpc database stdio"`
	Endpoint     string   `json:"endpoint" validate:"required"`
	Capabilities []string `json:"capabilities"`
	Sensitivity  string   `json:"sensitivity" validate:"omitempty,oneof=critical high medium low"`
	OwnerID      string   `json:"owner_id"`
	Teams        []string `json:"teams"`
	Tags         []string `json:"tags"`
}

func (sp serverSpec) toServer() registry.Server {
	return registry.Server{
		Name:         sp.Name,
		Description:  sp.Description,
		Transport:    registry.Transport(sp.Transport),
		Endpoint:     sp.Endpoint,
		Capabilities: sp.Capabilities,
		Sensitivity:  registry.Sensitivity(sp.Sensitivity),
		OwnerID:      sp.OwnerID,
		Teams:        sp.Teams,
		Tags:         sp.Tags,
	}
}

// handleRegisterServer registers a new downstream server and seeds a
// Capability record (classified by the sensitivity classifier's default
// heuristic) for each tool name it declared.
func (s *Server) handleRegisterServer(w http.ResponseWriter, r *http.Request) {
	var sp serverSpec
	if err := decodeAndValidate(r, &sp); err != nil {
		writeErr(w, err)
		return
	}

	srv, err := s.registry.RegisterServer(r.Context(), sp.toServer())
	if err != nil {
		writeErr(w, sarkerr.Validation(err.Error()))
		return
	}

	for _, name := range sp.Capabilities {
		level := classifier.Detect(name, "", nil)
		s.caps.Put(registry.Capability{
			ServerID:    srv.ID,
			Name:        name,
			Sensitivity: registry.Sensitivity(level),
		})
	}

	s.emitAudit(r, audit.EventServerRegistered, audit.SeverityLow, srv.ID, "", "server registered")
	writeJSON(w, http.StatusCreated, srv)
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	q := registry.Query{
		Team:           r.URL.Query().Get("team_id"),
		OwnerID:        r.URL.Query().Get("owner_id"),
		Search:         r.URL.Query().Get("search"),
		Tags:           splitCSV(r.URL.Query().Get("tags")),
		MatchAllTags:   queryBool(r, "match_all_tags"),
		SortDescending: r.URL.Query().Get("sort_order") == "desc",
	}
	for _, st := range splitCSV(r.URL.Query().Get("status")) {
		q.Status = append(q.Status, registry.Status(st))
	}
	for _, sv := range splitCSV(r.URL.Query().Get("sensitivity")) {
		q.Sensitivity = append(q.Sensitivity, registry.Sensitivity(sv))
	}

	page, err := s.registry.ListServers(r.Context(), q, queryInt(r, "limit", 0), r.URL.Query().Get("cursor"), queryBool(r, "include_total"))
	if err != nil {
		writeErr(w, sarkerr.Validation(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	srv, ok, err := s.registry.GetServer(r.Context(), id)
	if err != nil {
		writeErr(w, sarkerr.Internal("registry_lookup_failed", err))
		return
	}
	if !ok {
		writeErr(w, sarkerr.NotFound("server "+id+" not found"))
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

// handleDecommissionServer never deletes the record outright — it drives
// the status machine to decommissioned so historical audit references
// stay valid; the capability rows are dropped since they can no longer be
// invoked.
func (s *Server) handleDecommissionServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	srv, err := s.registry.UpdateServerStatus(r.Context(), id, registry.StatusDecommissioned)
	if err != nil {
		writeErr(w, classifyRegistryErr(err))
		return
	}
	s.caps.DeleteByServer(id)
	writeJSON(w, http.StatusOK, srv)
}

func (s *Server) handleBulkRegisterServers(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Servers          []serverSpec `json:"servers" validate:"required,min=1,dive"`
		FailOnFirstError bool         `json:"fail_on_first_error"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	specs := make([]registry.Server, len(body.Servers))
	for i, sp := range body.Servers {
		specs[i] = sp.toServer()
	}
	mode := registry.BulkBestEffort
	if body.FailOnFirstError {
		mode = registry.BulkTransactional
	}

	result, err := s.registry.BulkRegister(r.Context(), specs, mode)
	if err != nil {
		writeErr(w, sarkerr.Conflict(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBulkUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Updates          map[string]string `json:"updates"`
		FailOnFirstError bool              `json:"fail_on_first_error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, sarkerr.Validation("malformed request body"))
		return
	}

	updates := make(map[string]registry.Status, len(body.Updates))
	for id, st := range body.Updates {
		updates[id] = registry.Status(st)
	}
	mode := registry.BulkBestEffort
	if body.FailOnFirstError {
		mode = registry.BulkTransactional
	}

	result, err := s.registry.BulkUpdate(r.Context(), updates, mode)
	if err != nil {
		writeErr(w, sarkerr.Conflict(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	serverID := r.URL.Query().Get("server_id")
	var caps []registry.Capability
	if serverID != "" {
		caps = s.caps.ByServer(serverID)
	} else {
		caps = s.caps.List()
	}
	writeJSON(w, http.StatusOK, caps)
}

func (s *Server) handleGetToolSensitivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := s.caps.Get(id)
	if !ok {
		writeErr(w, sarkerr.NotFound("tool "+id+" not found"))
		return
	}
	effective := s.overrides.Effective(id, c.Name, c.Description, c.InputSchema)
	history := s.overrides.History(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"tool_id":     id,
		"sensitivity": effective,
		"overridden":  len(history) > 0,
		"history":     history,
	})
}

func (s *Server) handleSetToolSensitivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := s.caps.Get(id)
	if !ok {
		writeErr(w, sarkerr.NotFound("tool "+id+" not found"))
		return
	}

	var body struct {
		Level    string `json:"level" validate:"required,oneof=critical high medium low"`
		Reviewer string `json:"reviewer" validate:"required"`
		Reason   string `json:"reason"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	detected := classifier.Detect(c.Name, c.Description, c.InputSchema)
	override := s.overrides.SetSensitivity(id, classifier.Sensitivity(body.Level), body.Reviewer, body.Reason, detected)
	_ = s.caps.SetSensitivity(id, registry.Sensitivity(body.Level))

	writeJSON(w, http.StatusOK, override)
}

// handlePolicyEvaluate runs the full enforcement pipeline for a
// hypothetical action and returns the Decision without dispatching any
// downstream invocation — this endpoint never talks to an adapter, so
// dry_run is accepted for request-shape parity with the invoke endpoint
// but is otherwise a no-op here.
func (s *Server) handlePolicyEvaluate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action     string         `json:"action" validate:"required"`
		ResourceID string         `json:"resource_id"`
		Parameters map[string]any `json:"parameters"`
		DryRun     bool           `json:"dry_run"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	p, _ := principal.FromContext(r.Context())
	req := s.buildEnforcementRequest(r, p, body.Action, body.ResourceID, body.Parameters, decimal.Zero)
	d := s.pipeline.Evaluate(r.Context(), req)
	writeJSON(w, http.StatusOK, d)
}

// handleToolInvoke is the gateway's core operation: evaluate, then (only
// on allow) dispatch through the protocol adapter registered for the
// tool's server and record the actual cost against the budget ledger.
func (s *Server) handleToolInvoke(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ToolID     string         `json:"tool_id" validate:"required"`
		Arguments  map[string]any `json:"arguments"`
		ApprovalID string         `json:"approval_id"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	tool, ok := s.caps.Get(body.ToolID)
	if !ok {
		writeErr(w, sarkerr.NotFound("tool "+body.ToolID+" not found"))
		return
	}
	srv, ok, err := s.registry.GetServer(r.Context(), tool.ServerID)
	if err != nil || !ok {
		writeErr(w, sarkerr.NotFound("server for tool "+body.ToolID+" not found"))
		return
	}

	if tool.RequiresApproval {
		if body.ApprovalID == "" || !s.approvals.UseApproval(body.ApprovalID) {
			writeErr(w, sarkerr.ForbiddenPolicy("tool requires a granted approval"))
			return
		}
	}

	estimate := s.costReg.Estimate(&cost.Request{Provider: string(srv.Transport), Model: srv.Name}, nil)

	p, _ := principal.FromContext(r.Context())
	req := s.buildEnforcementRequest(r, p, "tool:invoke", body.ToolID, body.Arguments, estimate.EstimatedCost)
	req.Sensitivity = cache.Sensitivity(s.overrides.Effective(body.ToolID, tool.Name, tool.Description, tool.InputSchema))

	d := s.pipeline.Evaluate(r.Context(), req)
	if !d.Allow {
		status := http.StatusForbidden
		if d.Source == enforcement.SourceRate {
			status = http.StatusTooManyRequests
			w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
		}
		writeSarkError(w, status, classifyDecisionClass(d), d.Reason)
		return
	}

	a, err := s.adapters.For(string(srv.Transport))
	if err != nil {
		writeErr(w, sarkerr.DownstreamUnavailable("no adapter for server transport", err))
		return
	}

	inv := adapter.Invocation{
		Resource:   srv.ID,
		Capability: tool.Name,
		Parameters: body.Arguments,
		RequestID:  d.RequestID,
	}
	result, invErr := a.Invoke(r.Context(), inv)
	actual := estimate
	if invErr == nil {
		respBody, _ := json.Marshal(result)
		actual = s.costReg.RecordActual(&cost.Request{Provider: string(srv.Transport), Model: srv.Name}, &cost.Result{Body: respBody}, estimate, nil)
	}
	s.recordToolCost(r, p, srv, tool, estimate, actual, invErr == nil && result.Success)
	if invErr != nil {
		writeErr(w, sarkerr.DownstreamError("downstream invocation failed", invErr))
		return
	}

	s.emitAudit(r, audit.EventToolInvoked, audit.SeverityMedium, srv.ID, tool.Name, "allow")
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRequestApproval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ToolID           string `json:"tool_id" validate:"required"`
		Justification    string `json:"justification"`
		RequestedForSecs int    `json:"requested_for_seconds"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.RequestedForSecs <= 0 {
		body.RequestedForSecs = 3600
	}

	p, _ := principal.FromContext(r.Context())
	req, err := s.approvals.RequestApproval(p.ID, body.ToolID, body.Justification, time.Duration(body.RequestedForSecs)*time.Second)
	if err != nil {
		writeErr(w, sarkerr.Validation(err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.approvals.ListPending())
}

func (s *Server) handleDecideApproval(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var body struct {
			Notes string `json:"notes"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		p, _ := principal.FromContext(r.Context())
		req, err := s.approvals.Decide(id, p.ID, approve, body.Notes)
		if err != nil {
			writeErr(w, sarkerr.Conflict(err.Error()))
			return
		}

		kind := audit.EventApprovalDenied
		if approve {
			kind = audit.EventApprovalGranted
		}
		s.emitAudit(r, kind, audit.SeverityMedium, "", req.ToolID, string(req.Status))
		writeJSON(w, http.StatusOK, req)
	}
}

func (s *Server) handleRolloutSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Feature    string `json:"feature" validate:"required"`
		Percentage int    `json:"percentage" validate:"min=0,max=100"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	s.rollout.SetPercent(body.Feature, body.Percentage)
	writeJSON(w, http.StatusOK, s.rollout.Status())
}

func (s *Server) handleRolloutRollback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Feature string `json:"feature" validate:"required"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	s.rollout.Rollback(body.Feature)
	writeJSON(w, http.StatusOK, s.rollout.Status())
}

func (s *Server) handleRolloutRollbackAll(w http.ResponseWriter, r *http.Request) {
	s.rollout.RollbackAll()
	writeJSON(w, http.StatusOK, s.rollout.Status())
}

func (s *Server) handleRolloutStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rollout.Status())
}

func (s *Server) handleEmergencyActivate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	p, _ := principal.FromContext(r.Context())
	s.emergency.Activate(p.ID, body.Reason)
	writeJSON(w, http.StatusOK, map[string]bool{"active": true})
}

func (s *Server) handleEmergencyDeactivate(w http.ResponseWriter, r *http.Request) {
	p, _ := principal.FromContext(r.Context())
	s.emergency.Deactivate(p.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"active": false})
}

// handleMintOverride mints a one-shot break-glass PIN bound to a specific
// request id. The PIN is returned exactly once, here; only its salted
// hash is retained.
func (s *Server) handleMintOverride(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestID  string `json:"request_id" validate:"required"`
		ExpiresIn  int    `json:"expires_in_seconds"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.ExpiresIn <= 0 {
		body.ExpiresIn = 300
	}

	expiresAt := time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	pin, err := s.bgOverride.Mint(body.RequestID, expiresAt, true)
	if err != nil {
		writeErr(w, sarkerr.Internal("override_mint", err))
		return
	}

	s.emitAudit(r, audit.EventApprovalGranted, audit.SeverityHigh, "", "", "break-glass override minted for "+body.RequestID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"request_id": body.RequestID,
		"pin":        pin,
		"expires_at": expiresAt,
		"one_shot":   true,
	})
}

// handlePolicyReload re-compiles every document under the configured
// policy directory on demand, for deployments that run `sark policy
// reload` instead of relying on the background fsnotify watcher.
func (s *Server) handlePolicyReload(w http.ResponseWriter, r *http.Request) {
	if s.policyLdr == nil || s.policyDir == "" {
		writeErr(w, sarkerr.DownstreamUnavailable("no policy directory configured", nil))
		return
	}
	loaded, failures := s.policyLdr.LoadDir(r.Context(), s.policyDir)
	failureStrings := make([]string, 0, len(failures))
	for _, f := range failures {
		failureStrings = append(failureStrings, f.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{"loaded": loaded, "failures": failureStrings})
}

// buildEnforcementRequest assembles an enforcement.Request common to both
// the dry-run policy/evaluate endpoint and the real tools/invoke path.
func (s *Server) buildEnforcementRequest(r *http.Request, p principal.Principal, action, resourceID string, parameters map[string]any, prospectiveCost decimal.Decimal) enforcement.Request {
	apiKey := r.Header.Get("X-API-Key")
	ident := apiKey
	if ident == "" {
		ident = p.ID
	}
	return enforcement.Request{
		RequestID:         middleware.GetReqID(r.Context()),
		PrincipalID:       p.ID,
		RemoteIP:          clientIPFromRequest(r),
		Action:            action,
		Resource:          resourceID,
		Sensitivity:       cache.SensitivityMedium,
		CacheContext:      parameters,
		OverridePIN:       r.Header.Get("X-SARK-Override-PIN"),
		ProspectiveCost:   prospectiveCost,
		RateIdentifier:    ident,
		RateLimit:         s.rl.PerUser,
		RateWindowSeconds: s.rl.WindowSeconds,
		PolicyQuery:       action,
		Bundle: policy.InputBundle{
			User:    policy.UserInfo{ID: p.ID, Role: primaryRole(p), Extra: map[string]any{"groups": p.Groups}},
			Action:  action,
			Context: parameters,
		},
	}
}

func (s *Server) recordToolCost(r *http.Request, p principal.Principal, srv registry.Server, tool registry.Capability, estimate, actual cost.Estimate, succeeded bool) {
	if s.budgetTrk == nil || !succeeded {
		return
	}
	_ = s.budgetTrk.RecordCost(r.Context(), budget.Entry{
		PrincipalID:   p.ID,
		Resource:      tool.Name,
		Provider:      string(srv.Transport),
		Model:         srv.Name,
		EstimatedCost: estimate.EstimatedCost,
		ActualCost:    actual.EstimatedCost,
	})
}

func (s *Server) emitAudit(r *http.Request, kind audit.EventKind, severity audit.Severity, resourceID, toolName, decision string) {
	if s.auditPipe == nil {
		return
	}
	p, _ := principal.FromContext(r.Context())
	ev := audit.NewEvent(audit.Event{
		EventType:      kind,
		Severity:       severity,
		PrincipalEmail: p.Email,
		ResourceID:     resourceID,
		ToolName:       toolName,
		Decision:       decision,
		ClientIP:       clientIPFromRequest(r),
		UserAgent:      r.UserAgent(),
		RequestID:      middleware.GetReqID(r.Context()),
	})
	s.auditPipe.Emit(ev)
	s.wsHub.Broadcast(ev)
}

func primaryRole(p principal.Principal) string {
	if p.IsAdmin() {
		return string(principal.RoleAdmin)
	}
	for _, role := range p.Roles {
		return string(role)
	}
	return string(principal.RoleAgent)
}

func clientIPFromRequest(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i != -1 {
		return host[:i]
	}
	return host
}

// classifyRegistryErr maps the plain errors internal/registry returns
// (it depends on no error taxonomy of its own — it is reusable outside
// the HTTP boundary too) into the API's error taxonomy.
func classifyRegistryErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "not found") {
		return sarkerr.NotFound(err.Error())
	}
	return sarkerr.Conflict(err.Error())
}

func classifyDecisionClass(d enforcement.Decision) string {
	switch d.Source {
	case enforcement.SourceBudget:
		return string(sarkerr.ClassForbiddenBudget)
	case enforcement.SourceTime:
		return string(sarkerr.ClassForbiddenTime)
	case enforcement.SourceRate:
		return string(sarkerr.ClassRateLimited)
	default:
		return string(sarkerr.ClassForbiddenPolicy)
	}
}
