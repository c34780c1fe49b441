package status

// Status represents a session lifecycle state
type Status int

const (
	// Uploaded - input stored, session created
	Uploaded Status = iota + 1
	// ProcessingTranscription - worker picked the job
	ProcessingTranscription
	// TranscriptionFailed - transcription or quota failure, user visible
	TranscriptionFailed
	// PendingSpeakerEdit - transcript ready, waiting for speaker names
	PendingSpeakerEdit
	// SpeakerEditCompleted - user confirmed speaker names
	SpeakerEditCompleted
	// ProcessingBullets step
	ProcessingBullets
	// BulletsCompleted step
	BulletsCompleted
	// BulletsFailed step
	BulletsFailed
	// ProcessingMinutes step
	ProcessingMinutes
	// MinutesCompleted step
	MinutesCompleted
	// MinutesFailed step
	MinutesFailed
	// ProcessingTasks step
	ProcessingTasks
	// TasksCompleted step
	TasksCompleted
	// TasksFailed step
	TasksFailed
	// AllCompleted - every requested artifact produced
	AllCompleted
	// Error - unrecoverable failure outside artifact sub-flows
	Error
)

// Kind names a generated artifact type
type Kind string

const (
	// KindBullets artifact
	KindBullets Kind = "bullets"
	// KindMinutes artifact
	KindMinutes Kind = "minutes"
	// KindTasks artifact
	KindTasks Kind = "tasks"
)

// Kinds lists all artifact types
var Kinds = []Kind{KindBullets, KindMinutes, KindTasks}

var (
	statusName = map[Status]string{
		Uploaded:                "UPLOADED",
		ProcessingTranscription: "PROCESSING_TRANSCRIPTION",
		TranscriptionFailed:     "TRANSCRIPTION_FAILED",
		PendingSpeakerEdit:      "PENDING_SPEAKER_EDIT",
		SpeakerEditCompleted:    "SPEAKER_EDIT_COMPLETED",
		ProcessingBullets:       "PROCESSING_BULLETS",
		BulletsCompleted:        "BULLETS_COMPLETED",
		BulletsFailed:           "BULLETS_FAILED",
		ProcessingMinutes:       "PROCESSING_MINUTES",
		MinutesCompleted:        "MINUTES_COMPLETED",
		MinutesFailed:           "MINUTES_FAILED",
		ProcessingTasks:         "PROCESSING_TASKS",
		TasksCompleted:          "TASKS_COMPLETED",
		TasksFailed:             "TASKS_FAILED",
		AllCompleted:            "ALL_COMPLETED",
		Error:                   "ERROR",
	}
	nameStatus = map[string]Status{}
)

func init() {
	for k, v := range statusName {
		nameStatus[v] = k
	}
}

func (st Status) String() string {
	return statusName[st]
}

// From returns status obj from string
func From(st string) Status {
	return nameStatus[st]
}

// generation states - artifact types are an unordered set, a failure in one
// type does not block the others, so every generation state may start a new type
var generationStates = map[Status]bool{
	SpeakerEditCompleted: true,
	ProcessingBullets:    true, BulletsCompleted: true, BulletsFailed: true,
	ProcessingMinutes: true, MinutesCompleted: true, MinutesFailed: true,
	ProcessingTasks: true, TasksCompleted: true, TasksFailed: true,
}

// CanTransition tells if from -> to is a legal edge
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if to == Error {
		return from != AllCompleted && from != Error
	}
	switch to {
	case ProcessingTranscription:
		return from == Uploaded
	case PendingSpeakerEdit, TranscriptionFailed:
		return from == ProcessingTranscription
	case SpeakerEditCompleted:
		return from == PendingSpeakerEdit
	case ProcessingBullets, ProcessingMinutes, ProcessingTasks:
		return generationStates[from]
	case BulletsCompleted, BulletsFailed:
		return from == ProcessingBullets
	case MinutesCompleted, MinutesFailed:
		return from == ProcessingMinutes
	case TasksCompleted, TasksFailed:
		return from == ProcessingTasks
	case AllCompleted:
		return generationStates[from] && from != SpeakerEditCompleted
	}
	return false
}

// IsTerminal tells if the pipeline will not advance the session on its own anymore
func IsTerminal(st Status) bool {
	switch st {
	case TranscriptionFailed, BulletsFailed, MinutesFailed, TasksFailed, AllCompleted, Error:
		return true
	}
	return false
}

// TerminalNames lists the terminal state names, for storage predicates
func TerminalNames() []string {
	res := []string{}
	for _, st := range []Status{TranscriptionFailed, BulletsFailed, MinutesFailed, TasksFailed, AllCompleted, Error} {
		res = append(res, st.String())
	}
	return res
}

// IsFailed tells if st is a user-visible failure state
func IsFailed(st Status) bool {
	switch st {
	case TranscriptionFailed, BulletsFailed, MinutesFailed, TasksFailed, Error:
		return true
	}
	return false
}

// Processing returns the in-progress state for an artifact kind
func Processing(k Kind) Status {
	switch k {
	case KindBullets:
		return ProcessingBullets
	case KindMinutes:
		return ProcessingMinutes
	case KindTasks:
		return ProcessingTasks
	}
	return 0
}

// Completed returns the done state for an artifact kind
func Completed(k Kind) Status {
	switch k {
	case KindBullets:
		return BulletsCompleted
	case KindMinutes:
		return MinutesCompleted
	case KindTasks:
		return TasksCompleted
	}
	return 0
}

// Failed returns the failure state for an artifact kind
func Failed(k Kind) Status {
	switch k {
	case KindBullets:
		return BulletsFailed
	case KindMinutes:
		return MinutesFailed
	case KindTasks:
		return TasksFailed
	}
	return 0
}
