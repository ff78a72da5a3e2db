package domain

// Proposal is a unit of requested work awaiting approval.
type Proposal struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Domain      string  `json:"domain"`
	Status      string  `json:"status" enum:"pending,approved,rejected"`
	RequestedBy string  `json:"requested_by"`
	Source      string  `json:"source,omitempty"`
	ProjectID   *string `json:"project_id,omitempty"`
	ApprovedBy  *string `json:"approved_by,omitempty"`
	ApprovedAt  *string `json:"approved_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// Mission is an approved proposal expanded into an ordered, assigned unit
// of execution. A mission owns its steps.
type Mission struct {
	ID          string  `json:"id"`
	ProposalID  *string `json:"proposal_id,omitempty"`
	ProjectID   *string `json:"project_id,omitempty"`
	Title       string  `json:"title"`
	AssignedTo  string  `json:"assigned_to"`
	Status      string  `json:"status" enum:"queued,running,completed,failed"`
	Steps       []Step  `json:"steps,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// Step is one atomic unit of mission work, executed by spawning an external
// agent process.
type Step struct {
	ID             string  `json:"id"`
	MissionID      string  `json:"mission_id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Kind           string  `json:"kind"`
	Position       int     `json:"position"`
	AssignedTo     string  `json:"assigned_to"`
	Model          string  `json:"model,omitempty"`
	Escalate       bool    `json:"escalate,omitempty"`
	Status         string  `json:"status" enum:"queued,running,completed,failed"`
	Output         *string `json:"output,omitempty"`
	Error          *string `json:"error,omitempty"`
	TimeoutMinutes int     `json:"timeout_minutes"`
	StartedAt      *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt    *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

// Terminal reports whether the step has reached a final status.
func (s Step) Terminal() bool {
	return s.Status == "completed" || s.Status == "failed"
}

// Relationship holds the affinity score between two agents. AgentA and AgentB
// are stored in lexicographic order so each pair has exactly one row.
type Relationship struct {
	ID           string       `json:"id"`
	AgentA       string       `json:"agent_a"`
	AgentB       string       `json:"agent_b"`
	Affinity     float64      `json:"affinity"`
	DriftHistory []DriftEntry `json:"drift_history,omitempty"`
	UpdatedAt    string       `json:"updated_at" format:"date-time"`
}

// DriftEntry records one affinity adjustment.
type DriftEntry struct {
	Timestamp string  `json:"timestamp" format:"date-time"`
	Delta     float64 `json:"delta"`
	Old       float64 `json:"old"`
	New       float64 `json:"new"`
	Reason    string  `json:"reason"`
}

// Memory is a distilled learning extracted from a step's output.
type Memory struct {
	ID              string   `json:"id"`
	AgentID         string   `json:"agent_id"`
	Type            string   `json:"type" enum:"insight,pattern,decision,solution,warning"`
	Content         string   `json:"content"`
	Tags            []string `json:"tags,omitempty"`
	Confidence      float64  `json:"confidence"`
	SourceMissionID *string  `json:"source_mission_id,omitempty"`
	Status          string   `json:"status" enum:"active,inactive"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
}

// AgentState tracks whether an agent is busy with a mission.
type AgentState struct {
	AgentID          string  `json:"agent_id"`
	Status           string  `json:"status" enum:"idle,busy,offline"`
	CurrentMissionID *string `json:"current_mission_id,omitempty"`
	LastHeartbeat    *string `json:"last_heartbeat,omitempty" format:"date-time"`
}

// Event is one entry in the append-only log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// RunState is the poller's persisted bookkeeping record.
type RunState struct {
	LastRun           string `json:"last_run,omitempty" format:"date-time"`
	StepsProcessed    int64  `json:"steps_processed"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
}

// APIKey authenticates an API caller; only the hash is stored.
type APIKey struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
