package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"megicode/backend/pkg/models"
)

// MemoryRepository is an in-process Repository for tests and local runs.
// A transaction holds the repository lock for its whole duration, so
// transactions are serialized, and a failed transaction restores the state it
// started from.
type MemoryRepository struct {
	mu   sync.Mutex
	data memoryData
	seq  int64
}

type memoryTxKey struct{}

type memoryData struct {
	definitions map[string]*models.ProcessDefinition
	instances   map[string]*models.ProcessInstance
	steps       map[string]*models.StepInstance
	automations map[string]*models.Automation
	messages    map[string]*models.Message
}

func (d memoryData) clone() memoryData {
	return memoryData{
		definitions: maps.Clone(d.definitions),
		instances:   maps.Clone(d.instances),
		steps:       maps.Clone(d.steps),
		automations: maps.Clone(d.automations),
		messages:    maps.Clone(d.messages),
	}
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: memoryData{
		definitions: map[string]*models.ProcessDefinition{},
		instances:   map[string]*models.ProcessInstance{},
		steps:       map[string]*models.StepInstance{},
		automations: map[string]*models.Automation{},
		messages:    map[string]*models.Message{},
	}}
}

// Ping always succeeds.
func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

// ReadCommitted runs fn with the repository locked and rolls back on error.
func (r *MemoryRepository) ReadCommitted(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot, seq := r.data.clone(), r.seq
	if err := fn(context.WithValue(ctx, memoryTxKey{}, true)); err != nil {
		r.data, r.seq = snapshot, seq
		return err
	}
	return nil
}

// lock takes the repository lock unless ctx already runs in a transaction.
func (r *MemoryRepository) lock(ctx context.Context) func() {
	if ctx.Value(memoryTxKey{}) != nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *MemoryRepository) nextSeq() int64 {
	r.seq++
	return r.seq
}

func definitionID(key string, version int) string {
	return fmt.Sprintf("%s@%d", key, version)
}

func cloneDefinition(d *models.ProcessDefinition) *models.ProcessDefinition {
	c := *d
	c.Graph = slices.Clone(d.Graph)
	return &c
}

// NextDefinitionVersion returns max(version)+1 for key.
func (r *MemoryRepository) NextDefinitionVersion(ctx context.Context, key string) (int, error) {
	defer r.lock(ctx)()
	next := 1
	for _, d := range r.data.definitions {
		if d.Key == key && d.Version >= next {
			next = d.Version + 1
		}
	}
	return next, nil
}

// CreateDefinition stores a new inactive definition version.
func (r *MemoryRepository) CreateDefinition(ctx context.Context, def *models.ProcessDefinition) error {
	defer r.lock(ctx)()
	id := definitionID(def.Key, def.Version)
	if _, exists := r.data.definitions[id]; exists {
		return fmt.Errorf("%w: definition %s", ErrConflict, id)
	}
	def.IsActive = false
	r.data.definitions[id] = cloneDefinition(def)
	return nil
}

// GetDefinition retrieves one definition version.
func (r *MemoryRepository) GetDefinition(ctx context.Context, key string, version int) (*models.ProcessDefinition, error) {
	defer r.lock(ctx)()
	d, ok := r.data.definitions[definitionID(key, version)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDefinition(d), nil
}

// GetActiveDefinition retrieves the active version of key.
func (r *MemoryRepository) GetActiveDefinition(ctx context.Context, key string) (*models.ProcessDefinition, error) {
	defer r.lock(ctx)()
	for _, d := range r.data.definitions {
		if d.Key == key && d.IsActive {
			return cloneDefinition(d), nil
		}
	}
	return nil, ErrNotFound
}

// ListDefinitions returns every stored version ordered by key and version.
func (r *MemoryRepository) ListDefinitions(ctx context.Context) ([]*models.ProcessDefinition, error) {
	defer r.lock(ctx)()
	out := make([]*models.ProcessDefinition, 0, len(r.data.definitions))
	for _, d := range r.data.definitions {
		out = append(out, cloneDefinition(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// ActivateDefinition makes version the only active version of key.
func (r *MemoryRepository) ActivateDefinition(ctx context.Context, key string, version int) error {
	defer r.lock(ctx)()
	target := definitionID(key, version)
	if _, ok := r.data.definitions[target]; !ok {
		return fmt.Errorf("%w: definition %s", ErrNotFound, target)
	}
	for id, d := range r.data.definitions {
		if d.Key != key {
			continue
		}
		c := cloneDefinition(d)
		c.IsActive = id == target
		r.data.definitions[id] = c
	}
	return nil
}

// CreateInstance stores a new instance with Version 1.
func (r *MemoryRepository) CreateInstance(ctx context.Context, inst *models.ProcessInstance) error {
	defer r.lock(ctx)()
	if _, exists := r.data.instances[inst.ID]; exists {
		return fmt.Errorf("%w: instance %s", ErrConflict, inst.ID)
	}
	if inst.Status == models.InstanceStatusRunning {
		for _, other := range r.data.instances {
			if other.ProjectID == inst.ProjectID && other.Status == models.InstanceStatusRunning {
				return fmt.Errorf("%w: project %s already has running instance %s", ErrConflict, inst.ProjectID, other.ID)
			}
		}
	}
	inst.Version = 1
	r.data.instances[inst.ID] = inst.Clone()
	return nil
}

// GetInstance retrieves an instance by its ID.
func (r *MemoryRepository) GetInstance(ctx context.Context, id string) (*models.ProcessInstance, error) {
	defer r.lock(ctx)()
	inst, ok := r.data.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inst.Clone(), nil
}

// LockInstance is GetInstance; the transaction already holds the lock.
func (r *MemoryRepository) LockInstance(ctx context.Context, id string) (*models.ProcessInstance, error) {
	return r.GetInstance(ctx, id)
}

// UpdateInstance writes inst guarded by its Version.
func (r *MemoryRepository) UpdateInstance(ctx context.Context, inst *models.ProcessInstance) error {
	defer r.lock(ctx)()
	cur, ok := r.data.instances[inst.ID]
	if !ok {
		return fmt.Errorf("%w: instance %s", ErrNotFound, inst.ID)
	}
	if cur.Version != inst.Version {
		return fmt.Errorf("%w: instance %s is not at version %d", ErrConflict, inst.ID, inst.Version)
	}
	inst.Version++
	r.data.instances[inst.ID] = inst.Clone()
	return nil
}

// FindRunningInstance returns the running instance of a project.
func (r *MemoryRepository) FindRunningInstance(ctx context.Context, projectID string) (*models.ProcessInstance, error) {
	defer r.lock(ctx)()
	for _, inst := range r.data.instances {
		if inst.ProjectID == projectID && inst.Status == models.InstanceStatusRunning {
			return inst.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// ListInstances returns instances matching filter, newest first.
func (r *MemoryRepository) ListInstances(ctx context.Context, filter InstanceFilter) ([]*models.ProcessInstance, error) {
	defer r.lock(ctx)()
	var out []*models.ProcessInstance
	for _, inst := range r.data.instances {
		if filter.ProjectID != "" && inst.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		out = append(out, inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CreateStep appends a step and assigns its Seq.
func (r *MemoryRepository) CreateStep(ctx context.Context, s *models.StepInstance) error {
	defer r.lock(ctx)()
	if _, exists := r.data.steps[s.ID]; exists {
		return fmt.Errorf("%w: step %s", ErrConflict, s.ID)
	}
	s.Seq = r.nextSeq()
	r.data.steps[s.ID] = s.Clone()
	return nil
}

// UpdateStep writes the mutable fields of a step.
func (r *MemoryRepository) UpdateStep(ctx context.Context, s *models.StepInstance) error {
	defer r.lock(ctx)()
	if _, ok := r.data.steps[s.ID]; !ok {
		return fmt.Errorf("%w: step %s", ErrNotFound, s.ID)
	}
	r.data.steps[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepository) stepsOf(instanceID string) []*models.StepInstance {
	var out []*models.StepInstance
	for _, s := range r.data.steps {
		if s.InstanceID == instanceID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// GetActiveStep returns the active step of an instance.
func (r *MemoryRepository) GetActiveStep(ctx context.Context, instanceID string) (*models.StepInstance, error) {
	defer r.lock(ctx)()
	steps := r.stepsOf(instanceID)
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Status == models.StepStatusActive {
			return steps[i].Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// ListSteps returns the step history of an instance in sequence order.
func (r *MemoryRepository) ListSteps(ctx context.Context, instanceID string) ([]*models.StepInstance, error) {
	defer r.lock(ctx)()
	steps := r.stepsOf(instanceID)
	out := make([]*models.StepInstance, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out, nil
}

// CountVisits returns how many times stepKey was entered.
func (r *MemoryRepository) CountVisits(ctx context.Context, instanceID, stepKey string) (int, error) {
	defer r.lock(ctx)()
	n := 0
	for _, s := range r.data.steps {
		if s.InstanceID == instanceID && s.StepKey == stepKey {
			n++
		}
	}
	return n, nil
}

// ListOverdueSteps returns active steps past their deadline.
func (r *MemoryRepository) ListOverdueSteps(ctx context.Context, asOf time.Time) ([]*models.OverdueStep, error) {
	defer r.lock(ctx)()
	var out []*models.OverdueStep
	for _, s := range r.data.steps {
		if s.Status != models.StepStatusActive || s.DueAt == nil || s.DueAt.After(asOf) {
			continue
		}
		inst, ok := r.data.instances[s.InstanceID]
		if !ok || inst.Status != models.InstanceStatusRunning {
			continue
		}
		out = append(out, &models.OverdueStep{
			Step:          s.Clone(),
			DefinitionKey: inst.DefinitionKey,
			ProjectID:     inst.ProjectID,
			OverdueBy:     asOf.Sub(*s.DueAt),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step.DueAt.Before(*out[j].Step.DueAt) })
	return out, nil
}

// CreateAutomation stores an automation; a duplicate dedup key is a conflict.
func (r *MemoryRepository) CreateAutomation(ctx context.Context, a *models.Automation) error {
	defer r.lock(ctx)()
	for _, other := range r.data.automations {
		if other.DedupKey == a.DedupKey {
			return fmt.Errorf("%w: dedup key %s", ErrConflict, a.DedupKey)
		}
	}
	r.data.automations[a.ID] = a.Clone()
	return nil
}

// GetAutomation retrieves an automation by its ID.
func (r *MemoryRepository) GetAutomation(ctx context.Context, id string) (*models.Automation, error) {
	defer r.lock(ctx)()
	a, ok := r.data.automations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// LockAutomation is GetAutomation; the transaction already holds the lock.
func (r *MemoryRepository) LockAutomation(ctx context.Context, id string) (*models.Automation, error) {
	return r.GetAutomation(ctx, id)
}

// GetAutomationByDedupKey retrieves the automation carrying dedupKey.
func (r *MemoryRepository) GetAutomationByDedupKey(ctx context.Context, dedupKey string) (*models.Automation, error) {
	defer r.lock(ctx)()
	for _, a := range r.data.automations {
		if a.DedupKey == dedupKey {
			return a.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// UpdateAutomation writes the mutable fields of an automation.
func (r *MemoryRepository) UpdateAutomation(ctx context.Context, a *models.Automation) error {
	defer r.lock(ctx)()
	if _, ok := r.data.automations[a.ID]; !ok {
		return fmt.Errorf("%w: automation %s", ErrNotFound, a.ID)
	}
	r.data.automations[a.ID] = a.Clone()
	return nil
}

// ListAutomations returns the automations of an instance in creation order.
func (r *MemoryRepository) ListAutomations(ctx context.Context, instanceID string) ([]*models.Automation, error) {
	defer r.lock(ctx)()
	var out []*models.Automation
	for _, a := range r.data.automations {
		if a.InstanceID == instanceID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListDueAutomations returns automations of running instances that are
// pending and due, or running since before staleBefore.
func (r *MemoryRepository) ListDueAutomations(ctx context.Context, asOf, staleBefore time.Time, limit int) ([]*models.Automation, error) {
	defer r.lock(ctx)()
	var out []*models.Automation
	for _, a := range r.data.automations {
		if inst, ok := r.data.instances[a.InstanceID]; !ok || inst.Status != models.InstanceStatusRunning {
			continue
		}
		switch a.Status {
		case models.AutomationStatusPending:
			if a.NextAttemptAt != nil && a.NextAttemptAt.After(asOf) {
				continue
			}
		case models.AutomationStatusRunning:
			if a.StartedAt == nil || a.StartedAt.After(staleBefore) {
				continue
			}
		default:
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].NextAttemptAt, out[j].NextAttemptAt
		switch {
		case ti == nil:
			return tj != nil
		case tj == nil:
			return false
		}
		return ti.Before(*tj)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendMessage stores a handoff message and assigns its Seq.
func (r *MemoryRepository) AppendMessage(ctx context.Context, m *models.Message) error {
	defer r.lock(ctx)()
	m.Seq = r.nextSeq()
	c := *m
	c.Payload = models.CloneData(m.Payload)
	r.data.messages[m.ID] = &c
	return nil
}

// ListMessages returns the handoff log of an instance in sequence order.
func (r *MemoryRepository) ListMessages(ctx context.Context, instanceID string) ([]*models.Message, error) {
	defer r.lock(ctx)()
	var out []*models.Message
	for _, m := range r.data.messages {
		if m.InstanceID == instanceID {
			c := *m
			c.Payload = models.CloneData(m.Payload)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
