package orchestration

// Checkpoint is the progress value reported once a stage has been persisted.
type Checkpoint struct {
	Progress int
	Message  string
}

var (
	CheckpointStart        = Checkpoint{0, "Starting reconnaissance"}
	CheckpointRecon        = Checkpoint{50, "Reconnaissance complete"}
	CheckpointTechnologies = Checkpoint{65, "Technologies and subdomains stored"}
	CheckpointAssessment   = Checkpoint{80, "Vulnerability analysis complete"}
	CheckpointMapping      = Checkpoint{90, "Technique mapping complete"}
	CheckpointDone         = Checkpoint{100, "Scan completed"}
)

// Checkpoints lists the stage checkpoints in execution order.
var Checkpoints = []Checkpoint{
	CheckpointStart,
	CheckpointRecon,
	CheckpointTechnologies,
	CheckpointAssessment,
	CheckpointMapping,
	CheckpointDone,
}
