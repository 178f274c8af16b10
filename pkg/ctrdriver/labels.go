package ctrdriver

import "github.com/cliboard/cliboard/pkg/engine"

// Label keys, fixed byte-for-byte per the container label schema: fresh run
// containers carry engine/workspace/creds/runId; warm containers instead
// carry warm=true plus engine/workspace/creds/readonly/uidgid.
const (
	LabelEngine    = "adz.engine"
	LabelWorkspace = "adz.workspace"
	LabelCreds     = "adz.creds"
	LabelRunID     = "adz.runId"
	LabelWarm      = "adz.warm"
	LabelReadOnly  = "adz.readonly"
	LabelUIDGID    = "adz.uidgid"
)

// FreshLabels builds the label set for a container created for a specific
// Run.
func FreshLabels(fp engine.MountFingerprint, runID string) map[string]string {
	return map[string]string{
		LabelEngine:    string(fp.Engine),
		LabelWorkspace: fp.Normalize().WorkspacePath,
		LabelCreds:     fp.Normalize().CredsPath,
		LabelRunID:     runID,
	}
}

// WarmLabels builds the label set for a warm pool container.
func WarmLabels(fp engine.MountFingerprint) map[string]string {
	readonly := "0"
	if fp.ReadOnlyRoot {
		readonly = "1"
	}
	return map[string]string{
		LabelWarm:      "true",
		LabelEngine:    string(fp.Engine),
		LabelWorkspace: fp.Normalize().WorkspacePath,
		LabelCreds:     fp.Normalize().CredsPath,
		LabelReadOnly:  readonly,
		LabelUIDGID:    fp.UIDGID,
	}
}

// FingerprintFromWarmLabels reconstructs a MountFingerprint from a warm
// container's label set, as returned by Driver.Inspect/List.
func FingerprintFromWarmLabels(labels map[string]string) engine.MountFingerprint {
	return engine.MountFingerprint{
		Engine:        engine.Engine(labels[LabelEngine]),
		WorkspacePath: labels[LabelWorkspace],
		CredsPath:     labels[LabelCreds],
		ReadOnlyRoot:  labels[LabelReadOnly] == "1",
		UIDGID:        labels[LabelUIDGID],
	}.Normalize()
}
