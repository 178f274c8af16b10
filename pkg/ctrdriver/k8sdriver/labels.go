package k8sdriver

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// opaqueLabelKeys names the fingerprint fields whose values may contain
// characters Kubernetes label values forbid (DNS-1123: alphanumerics, '-',
// '_', '.', max 63 chars). Their real values are carried as Pod annotations;
// the label gets a short content hash instead, sufficient for equality
// lookups without round-tripping through the value itself.
var opaqueLabelKeys = map[string]struct{}{
	"adz.workspace": {},
	"adz.creds":     {},
	"adz.uidgid":    {},
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// LabelsAndAnnotations splits a Docker-style label set (§6 schema, literal
// path values) into the Kubernetes-safe label set (opaque fields hashed)
// plus the annotation set carrying the literal values.
func LabelsAndAnnotations(in map[string]string) (labels, annotations map[string]string) {
	labels = make(map[string]string, len(in))
	annotations = make(map[string]string, len(in))
	for k, v := range in {
		if _, opaque := opaqueLabelKeys[k]; opaque {
			annotations[k] = v
			labels[k+"-hash"] = shortHash(v)
			continue
		}
		labels[k] = v
	}
	return labels, annotations
}

// AnnotationsToLabels reverses LabelsAndAnnotations for read paths: it
// returns the Docker-style label set with opaque fields restored from their
// annotation, so callers see the same fingerprint schema regardless of
// backend.
func AnnotationsToLabels(labels, annotations map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		if strings.HasSuffix(k, "-hash") {
			continue
		}
		out[k] = v
	}
	for k, v := range annotations {
		out[k] = v
	}
	return out
}

func labelsSelectorString(labels map[string]string) string {
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

// podNameFor derives a stable Pod name from the fingerprint's runId label
// when present, otherwise a fresh hash of the full label set (used for warm
// containers, which carry no runId).
func podNameFor(labels map[string]string) string {
	if runID, ok := labels["adz.runId"]; ok && runID != "" {
		return "cliboard-run-" + strings.ToLower(shortHash(runID))[:12]
	}
	return "cliboard-warm-" + shortHash(labelsSelectorString(labels))[:12]
}

func parseUIDGID(s string) (uid, gid int64, ok bool) {
	if s == "" {
		return 0, 0, false
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	u, err1 := strconv.ParseInt(parts[0], 10, 64)
	g, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return u, g, true
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
