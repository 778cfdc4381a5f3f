// Flat re-exports of the subpackages, so callers that only want the bridge
// surface can import the root package alone.
package toolbridge

import (
	"github.com/machinefabric/toolbridge-go/alert"
	"github.com/machinefabric/toolbridge-go/kvstore"
	"github.com/machinefabric/toolbridge-go/plan"
	"github.com/machinefabric/toolbridge-go/rpc"
	"github.com/machinefabric/toolbridge-go/track"
	"github.com/machinefabric/toolbridge-go/watch"
)

// Protocol types
type Request = rpc.Request
type Response = rpc.Response
type Result = rpc.Result
type ResultKind = rpc.ResultKind
type Fault = rpc.Fault
type FaultKind = rpc.FaultKind
type Invoker = rpc.Invoker

var NewRequest = rpc.NewRequest
var NewNotification = rpc.NewNotification
var NormalizeResult = rpc.NormalizeResult
var StructuredResult = rpc.StructuredResult
var TextResult = rpc.TextResult
var ErrorResult = rpc.ErrorResult

const (
	ResultStructured = rpc.ResultStructured
	ResultText       = rpc.ResultText
	ResultError      = rpc.ResultError

	FaultPeerUnavailable   = rpc.FaultPeerUnavailable
	FaultPeerClosed        = rpc.FaultPeerClosed
	FaultProtocolViolation = rpc.FaultProtocolViolation
)

// Workflow types
type Step = plan.Step
type StepResult = plan.StepResult
type Report = plan.Report
type Executor = plan.Executor

var NewExecutor = plan.NewExecutor
var WithStore = plan.WithStore

// Change detection
type Fingerprint = track.Fingerprint
type Chunk = track.Chunk
type Tracker = track.Tracker

var FingerprintFile = track.FingerprintFile
var NewTracker = track.NewTracker

// Alerting
type Rule = alert.Rule
type Evaluation = alert.Evaluation
type Monitor = alert.Monitor

var Evaluate = alert.Evaluate
var NewMonitor = alert.NewMonitor

// Watching
type Watcher = watch.Watcher
type Observation = watch.Observation

var NewWatcher = watch.NewWatcher

// Storage
type Store = kvstore.Store
type FileStore = kvstore.FileStore

var NewFileStore = kvstore.NewFileStore
var NewMemStore = kvstore.NewMemStore
