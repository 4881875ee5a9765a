// SPDX-License-Identifier: Apache-2.0

package domain

type Stage string

const (
	StageScanning       Stage = "SCANNING"
	StageReconstructing Stage = "RECONSTRUCTING"
	StageOrdering       Stage = "ORDERING"
	StageDispatching    Stage = "DISPATCHING"
	StageDraining       Stage = "DRAINING"
	StageDone           Stage = "DONE"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{
	StageScanning,
	StageReconstructing,
	StageOrdering,
	StageDispatching,
	StageDraining,
	StageDone,
}

// VisitTypeName is the CLR type of the F# Visit record on the heap.
const VisitTypeName = "Bugfree.Spo.Analytics.Cli.Domain+Visit"
