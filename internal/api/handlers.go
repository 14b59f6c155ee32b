package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/secfuse/secfuse/internal/auth"
	"github.com/secfuse/secfuse/internal/models"
	"github.com/secfuse/secfuse/internal/ocsf"
	"github.com/secfuse/secfuse/internal/reports"
	"github.com/secfuse/secfuse/internal/rules"
	"github.com/secfuse/secfuse/internal/scheduler"
	"github.com/secfuse/secfuse/internal/store"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "email and password are required")
		return
	}

	tokens, err := s.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "auth_error", "Invalid credentials")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	tokens, err := s.authService.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "auth_error", "Invalid refresh token")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "auth_error", "Not authenticated")
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {

		_ = s.authService.LogoutAll(r.Context(), claims.UserID)
	} else {

		_ = s.authService.Logout(r.Context(), claims.UserID, req.RefreshToken)
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) getCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "auth_error", "Not authenticated")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":        claims.UserID,
		"email":          claims.Email,
		"role":           claims.Role,
		"scope_accounts": claims.ScopeAccounts,
	})
}

type createUserRequest struct {
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Password      string    `json:"password"`
	Role          auth.Role `json:"role"`
	ScopeAccounts []string  `json:"scope_accounts,omitempty"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "email and password are required")
		return
	}

	if req.Role == "" {
		req.Role = auth.RoleViewer
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "server_error", "Failed to process password")
		return
	}

	user := &auth.User{
		Email:         req.Email,
		Name:          req.Name,
		Password:      hashedPassword,
		Role:          req.Role,
		ScopeAccounts: req.ScopeAccounts,
	}

	if err := s.userStore.CreateUser(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	user.Password = ""
	respondJSON(w, http.StatusCreated, user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.userStore.ListUsers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, users)
}

type ingestItem struct {
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload"`
}

type ingestRequest struct {
	Items []ingestItem `json:"items"`
}

type ingestResult struct {
	Index    int    `json:"index"`
	Accepted bool   `json:"accepted"`
	ID       string `json:"id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ingest accepts a batch of scanner documents and enqueues them for
// asynchronous normalization. Items are accepted or rejected individually;
// a bad item never fails its batch.
func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "validation_error", "items is required")
		return
	}
	if len(req.Items) > s.cfg.Ingest.MaxBatchSize {
		respondError(w, http.StatusRequestEntityTooLarge, "batch_too_large",
			"batch exceeds maximum of "+strconv.Itoa(s.cfg.Ingest.MaxBatchSize)+" items")
		return
	}

	results := make([]ingestResult, len(req.Items))
	accepted := 0
	for i, item := range req.Items {
		results[i].Index = i

		if item.Source == "" || len(item.Payload) == 0 {
			results[i].Error = "source and payload are required"
			continue
		}
		if _, err := s.registry.Get(item.Source); err != nil {
			results[i].Error = err.Error()
			continue
		}

		id, err := s.queue.Enqueue(r.Context(), item.Source, item.Payload)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		results[i].Accepted = true
		results[i].ID = id.String()
		accepted++
	}

	status := http.StatusAccepted
	if accepted == 0 {
		status = http.StatusBadRequest
	}
	respondJSON(w, status, map[string]interface{}{
		"accepted": accepted,
		"rejected": len(req.Items) - accepted,
		"results":  results,
	})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.Sources())
}

// scopedFilter applies the caller's account scope to a query filter. A user
// with a non-empty scope only ever sees findings in those accounts.
func scopedFilter(r *http.Request, f *store.Filter) error {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok || len(claims.ScopeAccounts) == 0 {
		return nil
	}

	if len(f.ScopeAccounts) == 0 {
		f.ScopeAccounts = claims.ScopeAccounts
		return nil
	}

	for _, requested := range f.ScopeAccounts {
		allowed := false
		for _, a := range claims.ScopeAccounts {
			if requested == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return errors.New("account " + requested + " is outside your scope")
		}
	}
	return nil
}

// inScope reports whether the caller may read a finding in the given account.
func inScope(r *http.Request, accountID string) bool {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok || len(claims.ScopeAccounts) == 0 {
		return true
	}
	for _, a := range claims.ScopeAccounts {
		if a == accountID {
			return true
		}
	}
	return false
}

func (s *Server) listFindings(w http.ResponseWriter, r *http.Request) {
	filter := store.Filter{}
	q := r.URL.Query()

	if arn := q.Get("resource_arn"); arn != "" {
		filter.ResourceARN = arn
	}
	if source := q.Get("source_product"); source != "" {
		filter.SourceProduct = source
	}
	for _, state := range q["state"] {
		filter.WorkflowStates = append(filter.WorkflowStates, models.WorkflowState(state))
	}
	if sev := q.Get("min_severity"); sev != "" {
		filter.MinSeverity = models.ParseSeverity(sev)
	}
	if sev := q.Get("max_severity"); sev != "" {
		filter.MaxSeverity = models.ParseSeverity(sev)
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = t
		}
	}
	if until := q.Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			filter.Until = t
		}
	}
	if account := q.Get("account_id"); account != "" {
		filter.ScopeAccounts = []string{account}
	}
	if q.Get("include_archived") == "true" {
		filter.IncludeArchived = true
	}
	if l := q.Get("limit"); l != "" {
		if limit, err := strconv.Atoi(l); err == nil {
			filter.Limit = limit
		}
	}
	filter.Cursor = q.Get("cursor")

	if err := scopedFilter(r, &filter); err != nil {
		respondError(w, http.StatusForbidden, "scope_error", err.Error())
		return
	}

	page, err := s.store.Query(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSONWithMeta(w, http.StatusOK, page.Findings, &apiMeta{
		NextCursor: page.NextCursor,
		Limit:      filter.Limit,
	})
}

func (s *Server) findingForRequest(w http.ResponseWriter, r *http.Request) *models.Finding {
	identity := chi.URLParam(r, "identity")

	finding, err := s.store.Get(r.Context(), identity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Finding not found")
		} else {
			respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		}
		return nil
	}

	if !inScope(r, finding.Resource.AccountID) {
		// Scoped users cannot distinguish hidden from missing.
		respondError(w, http.StatusNotFound, "not_found", "Finding not found")
		return nil
	}

	return finding
}

func (s *Server) getFinding(w http.ResponseWriter, r *http.Request) {
	finding := s.findingForRequest(w, r)
	if finding == nil {
		return
	}
	respondJSON(w, http.StatusOK, finding)
}

func (s *Server) getFindingLifecycle(w http.ResponseWriter, r *http.Request) {
	finding := s.findingForRequest(w, r)
	if finding == nil {
		return
	}

	events, err := s.store.ListLifecycle(r.Context(), finding.Identity)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, events)
}

func (s *Server) getFindingGroups(w http.ResponseWriter, r *http.Request) {
	finding := s.findingForRequest(w, r)
	if finding == nil {
		return
	}

	groups, err := s.store.GroupsForIdentity(r.Context(), finding.Identity)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, groups)
}

func (s *Server) getFindingOCSF(w http.ResponseWriter, r *http.Request) {
	finding := s.findingForRequest(w, r)
	if finding == nil {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ocsf.Project(finding))
}

type transitionRequest struct {
	State models.WorkflowState `json:"state"`
	Note  string               `json:"note,omitempty"`
}

func (s *Server) transitionWorkflow(w http.ResponseWriter, r *http.Request) {
	finding := s.findingForRequest(w, r)
	if finding == nil {
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.State == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "state is required")
		return
	}

	claims, _ := auth.GetUserFromContext(r.Context())
	actor := "api"
	if claims != nil {
		actor = claims.Email
	}

	updated, err := s.store.Transition(r.Context(), finding.Identity, req.State, actor, req.Note)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			respondError(w, http.StatusConflict, "invalid_transition", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

type verificationRequest struct {
	State models.VerificationState `json:"state"`
	Note  string                   `json:"note,omitempty"`
}

func (s *Server) setVerification(w http.ResponseWriter, r *http.Request) {
	finding := s.findingForRequest(w, r)
	if finding == nil {
		return
	}

	var req verificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	switch req.State {
	case models.VerificationUnknown, models.VerificationTruePositive,
		models.VerificationFalsePositive, models.VerificationBenignPositive:
	default:
		respondError(w, http.StatusBadRequest, "validation_error", "unknown verification state")
		return
	}

	claims, _ := auth.GetUserFromContext(r.Context())
	actor := "api"
	if claims != nil {
		actor = claims.Email
	}

	updated, err := s.store.SetVerification(r.Context(), finding.Identity, req.State, actor, req.Note)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

type noteRequest struct {
	Note string `json:"note"`
}

func (s *Server) addNote(w http.ResponseWriter, r *http.Request) {
	finding := s.findingForRequest(w, r)
	if finding == nil {
		return
	}

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Note == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "note is required")
		return
	}

	claims, _ := auth.GetUserFromContext(r.Context())
	actor := "api"
	if claims != nil {
		actor = claims.Email
	}

	updated, err := s.store.Annotate(r.Context(), finding.Identity, actor, req.Note)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, groups)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "groupID")

	group, err := s.store.GetGroup(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Group not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, group)
}

func (s *Server) runCorrelation(w http.ResponseWriter, r *http.Request) {
	if s.correlator == nil {
		respondError(w, http.StatusServiceUnavailable, "correlation_unavailable", "Correlation engine is not configured")
		return
	}

	if err := s.correlator(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "correlation_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"

	rulesList, err := s.rulesStore.ListRules(r.Context(), enabledOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, rulesList)
}

type ruleRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	RuleOrder   int            `json:"rule_order"`
	IsTerminal  bool           `json:"is_terminal"`
	Enabled     bool           `json:"enabled"`
	Criteria    rules.Criteria `json:"criteria"`
	Actions     []rules.Action `json:"actions"`
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	claims, _ := auth.GetUserFromContext(r.Context())
	createdBy := ""
	if claims != nil {
		createdBy = claims.UserID
	}

	rule := &rules.AutomationRule{
		Name:        req.Name,
		Description: req.Description,
		RuleOrder:   req.RuleOrder,
		IsTerminal:  req.IsTerminal,
		Enabled:     req.Enabled,
		Criteria:    req.Criteria,
		Actions:     req.Actions,
		CreatedBy:   createdBy,
	}

	if err := s.rulesStore.CreateRule(r.Context(), rule); err != nil {
		if errors.Is(err, rules.ErrInvalidRule) {
			respondError(w, http.StatusBadRequest, "invalid_rule", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	if err := s.rulesEngine.LoadRules(r.Context()); err != nil {
		s.logger.Warn("failed to reload rules after create", "error", err)
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")

	rule, err := s.rulesStore.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	existing, err := s.rulesStore.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	existing.RuleOrder = req.RuleOrder
	existing.IsTerminal = req.IsTerminal
	existing.Enabled = req.Enabled
	existing.Criteria = req.Criteria
	existing.Actions = req.Actions

	if err := s.rulesStore.UpdateRule(r.Context(), existing); err != nil {
		if errors.Is(err, rules.ErrInvalidRule) {
			respondError(w, http.StatusBadRequest, "invalid_rule", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	if err := s.rulesEngine.LoadRules(r.Context()); err != nil {
		s.logger.Warn("failed to reload rules after update", "error", err)
	}

	respondJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")

	if err := s.rulesStore.DeleteRule(r.Context(), id); err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	if err := s.rulesEngine.LoadRules(r.Context()); err != nil {
		s.logger.Warn("failed to reload rules after delete", "error", err)
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) reloadRules(w http.ResponseWriter, r *http.Request) {
	if err := s.rulesEngine.LoadRules(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "reload_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) listCrossReferences(w http.ResponseWriter, r *http.Request) {
	includeResolved := r.URL.Query().Get("include_resolved") == "true"

	diags, err := s.store.ListCrossReferences(r.Context(), includeResolved)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, diags)
}

func (s *Server) resolveCrossReference(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "diagnosticID")

	if err := s.store.ResolveCrossReference(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Diagnostic not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "queue_unavailable", "Queue not configured")
		return
	}

	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "queue_unavailable", "Queue not configured")
		return
	}

	envelopes, err := s.queue.DeadLetters(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, envelopes)
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "queue_unavailable", "Queue not configured")
		return
	}

	workers, err := s.queue.ActiveWorkers(r.Context(), 30*time.Second)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, workers)
}

func (s *Server) listScheduledJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.schedulerStore.ListJobs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, jobs)
}

type createJobRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Schedule    string            `json:"schedule"`
	JobType     scheduler.JobType `json:"job_type"`
	Config      map[string]string `json:"config"`
	Enabled     bool              `json:"enabled"`
}

func (s *Server) createScheduledJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Name == "" || req.Schedule == "" || req.JobType == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "name, schedule, and job_type are required")
		return
	}

	job := &scheduler.Job{
		Name:        req.Name,
		Description: req.Description,
		Schedule:    req.Schedule,
		JobType:     req.JobType,
		Config:      req.Config,
		Enabled:     req.Enabled,
	}

	if err := s.scheduler.AddJob(r.Context(), job); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

func (s *Server) getScheduledJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := s.schedulerStore.GetJob(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "not_found", "Job not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

func (s *Server) updateScheduledJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	job := &scheduler.Job{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Schedule:    req.Schedule,
		JobType:     req.JobType,
		Config:      req.Config,
		Enabled:     req.Enabled,
	}

	if err := s.scheduler.UpdateJob(r.Context(), job); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, job)
}

func (s *Server) deleteScheduledJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	if err := s.scheduler.DeleteJob(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) runScheduledJobNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	if err := s.scheduler.RunJobNow(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "job_error", err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) getJobExecutions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	execs, err := s.schedulerStore.GetJobExecutions(r.Context(), id, 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, execs)
}

func (s *Server) getReportTypes(w http.ResponseWriter, r *http.Request) {
	types := []map[string]string{
		{"type": "findings", "name": "Findings Report", "description": "Normalized findings with workflow state"},
		{"type": "groups", "name": "Correlation Groups", "description": "Related finding clusters"},
		{"type": "executive", "name": "Executive Summary", "description": "High-level security posture"},
	}
	respondJSON(w, http.StatusOK, types)
}

type generateReportRequest struct {
	Type        string     `json:"type"`
	Format      string     `json:"format"`
	Title       string     `json:"title"`
	AccountIDs  []string   `json:"account_ids,omitempty"`
	DateFrom    *time.Time `json:"date_from,omitempty"`
	DateTo      *time.Time `json:"date_to,omitempty"`
	MinSeverity string     `json:"min_severity,omitempty"`
	States      []string   `json:"states,omitempty"`
}

func (s *Server) generateReport(w http.ResponseWriter, r *http.Request) {
	var req generateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Type == "" || req.Format == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "type and format are required")
		return
	}
	if req.Title == "" {
		req.Title = req.Type + " Report"
	}

	states := make([]models.WorkflowState, len(req.States))
	for i, st := range req.States {
		states[i] = models.WorkflowState(st)
	}

	report, err := s.reportGenerator.Generate(r.Context(), &reports.ReportRequest{
		Type:        reports.ReportType(req.Type),
		Format:      reports.ReportFormat(req.Format),
		Title:       req.Title,
		AccountIDs:  req.AccountIDs,
		DateFrom:    req.DateFrom,
		DateTo:      req.DateTo,
		MinSeverity: models.ParseSeverity(req.MinSeverity),
		States:      states,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "report_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", report.MimeType)
	w.Header().Set("Content-Disposition", "attachment; filename="+report.Filename)
	_, _ = w.Write(report.Data)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	sources, err := s.store.SourceCounts(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"by_severity_and_state": stats,
		"by_source":             sources,
	})
}
