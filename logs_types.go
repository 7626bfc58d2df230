package rafter

// LogKind represent the kind of the log
type LogKind uint8

const (
	// LogNoop is a log type used only by the leader
	// to keep the log index and term in sync with followers
	// when stepping up as leader
	LogNoop LogKind = iota

	// LogConfiguration is a log type used between nodes
	// when configuration need to change
	LogConfiguration

	// LogCommand is a log type used by clients to append log entries
	// on all nodes
	LogCommand
)

// LogEntry hold requirements that will be used
// to store logs on disk
type LogEntry struct {
	Kind    LogKind
	Term    uint64
	Index   uint64
	Command []byte
}

// Config is the cluster configuration carried by LogConfiguration
// entries. The store never builds configurations on its own, it only
// writes back what callers handed to it
type Config struct {
	// State is the configuration state as seen by callers,
	// ConfigStateBlank when no configuration has been logged yet
	State string
}

const (
	// ConfigStateBlank is the sentinel state used while no
	// configuration entry has been logged
	ConfigStateBlank string = "blank"

	// ConfigStateStable is the state of a settled cluster configuration
	ConfigStateStable string = "stable"
)

// BlankConfig returns the sentinel configuration used while the log
// holds no configuration entry
func BlankConfig() Config {
	return Config{State: ConfigStateBlank}
}

// IsBlank return true when no configuration entry backs this config
func (c Config) IsBlank() bool {
	return c.State == ConfigStateBlank || c.State == ""
}

// Metadata is the peer local state that must survive restarts
type Metadata struct {
	// CurrentTerm is latest term seen during the voting campaign
	CurrentTerm uint64 `json:"currentTerm"`

	// VotedFor is the node the current node voted for during the election campaign
	VotedFor string `json:"votedFor"`
}

// Peer identify the owner of a log. Node is optional and only used
// when multiple nodes share a name
type Peer struct {
	Name string
	Node string
}

// ID return the peer identifier used to build on disk file names
func (p Peer) ID() string {
	if p.Node == "" {
		return p.Name
	}
	return p.Name + "_" + p.Node
}

// Address return the symbolic address the log store is registered under
func (p Peer) Address() string {
	return p.Name + "_log"
}

// NewNoop build a noop entry for the provided term.
// Its command is the canonical empty encoding
func NewNoop(term uint64) *LogEntry {
	return &LogEntry{
		Kind:    LogNoop,
		Term:    term,
		Command: noopCommand(),
	}
}

// NewConfigEntry build a configuration entry for the provided term
func NewConfigEntry(term uint64, config Config) *LogEntry {
	return &LogEntry{
		Kind:    LogConfiguration,
		Term:    term,
		Command: EncodeConfig(config),
	}
}

// NewEntry build a command entry for the provided term
func NewEntry(term uint64, command []byte) *LogEntry {
	return &LogEntry{
		Kind:    LogCommand,
		Term:    term,
		Command: command,
	}
}
