package domain

import "time"

// View selects which top-level screen is shown.
type View string

const (
	ViewCapture View = "capture"
	ViewResult  View = "result"
	ViewLive    View = "live"
)

// RecorderState models the single-shot capture lifecycle.
type RecorderState string

const (
	RecorderStateIdle      RecorderState = "idle"
	RecorderStateRecording RecorderState = "recording"
)

// LiveState models the live voice session lifecycle.
type LiveState string

const (
	LiveStateIdle       LiveState = "idle"
	LiveStateConnecting LiveState = "connecting"
	LiveStateConnected  LiveState = "connected"
	LiveStateError      LiveState = "error"
)

// ErrorCode identifies backend errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup     ErrorCode = "startup"
	ErrorCodeInput       ErrorCode = "input"
	ErrorCodePermission  ErrorCode = "permission"
	ErrorCodeAnalysis    ErrorCode = "analysis"
	ErrorCodeSupplement  ErrorCode = "supplement"
	ErrorCodeLive        ErrorCode = "live"
	ErrorCodeAudioStream ErrorCode = "audio_stream"
	ErrorCodeCredential  ErrorCode = "credential"
	ErrorCodeClipboard   ErrorCode = "clipboard"
)

// ThreatLevel is the four-tier severity scale returned with every analysis.
type ThreatLevel string

const (
	ThreatWolf   ThreatLevel = "WOLF"
	ThreatTiger  ThreatLevel = "TIGER"
	ThreatDemon  ThreatLevel = "DEMON"
	ThreatDragon ThreatLevel = "DRAGON"
)

// ThreatLevels lists the tiers from least to most severe.
var ThreatLevels = []ThreatLevel{ThreatWolf, ThreatTiger, ThreatDemon, ThreatDragon}

// Rank returns 1..4 for known tiers and 0 otherwise.
func (t ThreatLevel) Rank() int {
	for i, level := range ThreatLevels {
		if level == t {
			return i + 1
		}
	}
	return 0
}

func (t ThreatLevel) Valid() bool {
	return t.Rank() > 0
}

// SupplementKind selects the persona used for supplementary text.
type SupplementKind string

const (
	SupplementInsight      SupplementKind = "insight"
	SupplementFamilyReport SupplementKind = "family-report"
	SupplementHandover     SupplementKind = "handover"
)

func (k SupplementKind) Valid() bool {
	switch k {
	case SupplementInsight, SupplementFamilyReport, SupplementHandover:
		return true
	default:
		return false
	}
}

// Title is the heading shown above generated supplementary text.
func (k SupplementKind) Title() string {
	switch k {
	case SupplementInsight:
		return "臨床的洞察 / INSIGHT"
	case SupplementFamilyReport:
		return "市民（家族）報告"
	case SupplementHandover:
		return "本部（多職種）共有"
	default:
		return ""
	}
}

// CareNote is a SOAP-structured clinical note.
type CareNote struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// CarePlanEntry is one problem/goal/intervention row of a care plan.
type CarePlanEntry struct {
	Problem      string `json:"problem"`
	Goal         string `json:"goal"`
	Intervention string `json:"intervention"`
}

// AnalysisResult is one complete structured analysis. It is replaced wholesale, never patched.
type AnalysisResult struct {
	Soap           CareNote        `json:"soap"`
	CarePlan       []CarePlanEntry `json:"carePlan"`
	Summary        string          `json:"summary"`
	ThreatLevel    ThreatLevel     `json:"threatLevel"`
	OtsuboneWisdom string          `json:"otsuboneWisdom"`
}

// Recording is a finalized microphone capture in a container format.
type Recording struct {
	Data     []byte        `json:"-"`
	MIMEType string        `json:"mimeType"`
	Duration time.Duration `json:"duration"`
}

// Empty reports whether the recording carries no audio.
func (r *Recording) Empty() bool {
	return r == nil || len(r.Data) == 0
}

// Speaker identifies who produced a live transcript line.
type Speaker string

const (
	SpeakerLocal  Speaker = "local"
	SpeakerRemote Speaker = "remote"
)

// LiveTranscriptEntry is one finalized line of a live session.
type LiveTranscriptEntry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// LiveAudio is an inbound audio payload, still wire-encoded.
type LiveAudio struct {
	MIMEType string
	Data     string
}

// LiveMessage is one inbound frame of a live session.
type LiveMessage struct {
	InputTranscript  string
	OutputTranscript string
	Audio            []LiveAudio
	TurnComplete     bool
	Interrupted      bool
}

// LevelTier buckets a visualizer bar by amplitude.
type LevelTier string

const (
	LevelLow  LevelTier = "low"
	LevelMid  LevelTier = "mid"
	LevelHigh LevelTier = "high"
)

// LevelBar is one visualizer bar.
type LevelBar struct {
	Height int       `json:"height"`
	Tier   LevelTier `json:"tier"`
}

// RecorderStatus summarizes the recorder for the UI.
type RecorderStatus struct {
	State          RecorderState `json:"state"`
	ElapsedSeconds int           `json:"elapsedSeconds"`
	ElapsedLabel   string        `json:"elapsedLabel"`
	Note           string        `json:"note"`
	Error          string        `json:"error,omitempty"`
}

// LiveSnapshot summarizes the live session for the UI.
type LiveSnapshot struct {
	SessionID    string                `json:"sessionId,omitempty"`
	State        LiveState             `json:"state"`
	Log          []LiveTranscriptEntry `json:"log"`
	TypingLocal  string                `json:"typingLocal,omitempty"`
	TypingRemote string                `json:"typingRemote,omitempty"`
	Playing      bool                  `json:"playing"`
	Error        string                `json:"error,omitempty"`
}

// ViewSnapshot summarizes the orchestrator for the UI.
type ViewSnapshot struct {
	View       View            `json:"view"`
	Processing bool            `json:"processing"`
	Result     *AnalysisResult `json:"result,omitempty"`
}
