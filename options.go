package nodesetexporter

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SubCode is the fine-grained failure phase of a StatusResult: paired with
// the coarse Good/Fail flag, it names exactly which pipeline phase produced
// the failure.
type SubCode int

const (
	SubCodeNo SubCode = iota
	SubCodeBeginFail
	SubCodeGetNamespacesFail
	SubCodeExportNamespacesFail
	SubCodeGetNodeClassesFail
	SubCodeGetNodesDataFail
	SubCodeGetAliasesFail
	SubCodeExportNodesFail
	SubCodeExportAliasesFail
	SubCodeEndFail
	SubCodeFailedCheckNs0StartNodes
)

func (s SubCode) String() string {
	switch s {
	case SubCodeNo:
		return "No"
	case SubCodeBeginFail:
		return "BeginFail"
	case SubCodeGetNamespacesFail:
		return "GetNamespacesFail"
	case SubCodeExportNamespacesFail:
		return "ExportNamespacesFail"
	case SubCodeGetNodeClassesFail:
		return "GetNodeClassesFail"
	case SubCodeGetNodesDataFail:
		return "GetNodesDataFail"
	case SubCodeGetAliasesFail:
		return "GetAliasesFail"
	case SubCodeExportNodesFail:
		return "ExportNodesFail"
	case SubCodeExportAliasesFail:
		return "ExportAliasesFail"
	case SubCodeEndFail:
		return "EndFail"
	case SubCodeFailedCheckNs0StartNodes:
		return "FailedCheckNs0StartNodes"
	default:
		return "Unknown"
	}
}

// StatusResult is the return value of ExportNodeset: a coarse Good/Fail plus
// the SubCode naming which phase failed, and the underlying error (if any).
type StatusResult struct {
	Good    bool
	SubCode SubCode
	Err     error
}

// Ok builds a Good status with SubCodeNo.
func Ok() StatusResult { return StatusResult{Good: true, SubCode: SubCodeNo} }

// Fail builds a Fail status carrying sub and the triggering error.
func Fail(sub SubCode, err error) StatusResult {
	return StatusResult{Good: false, SubCode: sub, Err: err}
}

func (r StatusResult) Error() string {
	if r.Good {
		return "Good"
	}
	if r.Err != nil {
		return r.SubCode.String() + ": " + r.Err.Error()
	}
	return r.SubCode.String()
}

// EncoderType enumerates the supported document encodings. XML is the only
// member today.
type EncoderType int

const (
	EncoderXML EncoderType = iota
)

// LogLevel gates the minimum level the default stdout logger emits. A
// caller-supplied *zap.Logger is used as-is and carries its own level.
type LogLevel int

const (
	LogAll LogLevel = iota
	LogTrace
	LogDebug
	LogInfo
	LogWarning
	LogError
	LogCritical
	LogOff
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogAll, LogTrace, LogDebug:
		return zapcore.DebugLevel
	case LogInfo:
		return zapcore.InfoLevel
	case LogWarning:
		return zapcore.WarnLevel
	case LogError:
		return zapcore.ErrorLevel
	case LogCritical:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// FlatListOptions groups the flat-mode knobs.
type FlatListOptions struct {
	// IsEnable switches the reference-repair pipeline into flat mode: every
	// hierarchical reference is stripped and children are re-hooked onto the
	// start node via a synthesized inverse Organizes reference.
	IsEnable bool

	// CreateMissingStartNode fabricates the start node as an Object when it
	// does not exist on the server (node class came back Unspecified) and
	// IsEnable is set.
	CreateMissingStartNode bool

	// AllowAbstractVariable injects the extra HasComponent backlinks to
	// BaseObjectType/BaseDataVariableType so a Variable-class start node
	// with an abstract type definition is still accepted by NodeSet2
	// loaders.
	AllowAbstractVariable bool
}

// Options configures one ExportNodeset call.
type Options struct {
	// Logger is the external log sink; nil defaults to a stdout logger at
	// InternalLogLevel.
	Logger *zap.Logger

	// NumberOfMaxNodesToRequestData caps how many NodeIds of one start key's
	// list have their attributes and references fetched in one batch; 0 means
	// unlimited (process the whole list for a start key in one batch). Node
	// classes are always read for the whole list at once.
	NumberOfMaxNodesToRequestData int

	// EncoderTypes selects the output encoding; only EncoderXML is defined.
	EncoderTypes EncoderType

	// InternalLogLevel gates the default stdout core's minimum level.
	InternalLogLevel LogLevel

	// ParentStartNodeReplacer is the fallback parent NodeId injected when a
	// start node has no reference to Objects (i=85) after filtering.
	// Defaults to i=85 itself.
	ParentStartNodeReplacer NodeID

	// IsPerfTimerEnable logs elapsed wall-clock time per orchestrator phase
	// at Info.
	IsPerfTimerEnable bool

	// NS0CustomNodesReadyToWork allows user-defined ns=0 nodes to be
	// admitted and used as start nodes (outside the fixed standard-root
	// set).
	NS0CustomNodesReadyToWork bool

	// FlatListOfNodes groups the flat-mode knobs.
	FlatListOfNodes FlatListOptions
}

// DefaultOptions returns the zero-value-safe defaults: non-flat mode,
// XML encoding, Info-level logging to stdout, i=85 as the parent fallback.
func DefaultOptions() Options {
	return Options{
		EncoderTypes:            EncoderXML,
		InternalLogLevel:        LogInfo,
		ParentStartNodeReplacer: nodeIDObjects,
	}
}

// Validate checks that opts is internally coherent before an export starts.
func (opts Options) Validate() error {
	if opts.EncoderTypes != EncoderXML {
		return fmt.Errorf("unsupported encoder type %d: only XML output is implemented", opts.EncoderTypes)
	}
	if opts.NumberOfMaxNodesToRequestData < 0 {
		return fmt.Errorf("number of max nodes to request data must be >= 0, got %d", opts.NumberOfMaxNodesToRequestData)
	}
	if !opts.FlatListOfNodes.IsEnable && (opts.FlatListOfNodes.CreateMissingStartNode || opts.FlatListOfNodes.AllowAbstractVariable) {
		return errors.New("flat-list sub-options require the flat list itself to be enabled")
	}
	return nil
}

// resolveLogger returns opts.Logger, or a stdout core when nil, honoring
// InternalLogLevel.
func (opts Options) resolveLogger() *zap.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	if opts.InternalLogLevel == LogOff {
		return zap.NewNop()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(opts.InternalLogLevel.zapLevel())
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stdout"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func (opts Options) parentReplacer() NodeID {
	if opts.ParentStartNodeReplacer.IsZero() {
		return nodeIDObjects
	}
	return opts.ParentStartNodeReplacer
}

// Destination is either a file path or an already-open output stream.
// Exactly one of Path or Writer should be set; Writer takes precedence when
// both are.
type Destination struct {
	Path   string
	Writer io.Writer
}

// FileDestination builds a Destination that writes to the named file.
func FileDestination(path string) Destination { return Destination{Path: path} }

// StreamDestination builds a Destination that writes to an already-open
// writer (a buffer, a socket, anything implementing io.Writer).
func StreamDestination(w io.Writer) Destination { return Destination{Writer: w} }

var errNoDestination = errors.New("destination: neither Path nor Writer is set")
