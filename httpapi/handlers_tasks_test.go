package httpapi

import "testing"

func TestIsSubsetTrueWhenCallerHasEveryRequiredTool(t *testing.T) {
	if !isSubset([]string{"git", "docker"}, []string{"git", "docker", "make"}) {
		t.Error("isSubset() = false, want true when caller has every required tool plus extras")
	}
}

func TestIsSubsetFalseWhenCallerMissingARequiredTool(t *testing.T) {
	if isSubset([]string{"git", "docker"}, []string{"git"}) {
		t.Error("isSubset() = true, want false when caller is missing a required tool")
	}
}

func TestIsSubsetTrueWhenNoToolsRequired(t *testing.T) {
	if !isSubset(nil, []string{"git"}) {
		t.Error("isSubset(nil, ...) = false, want true: a task with no requirements is ready for any caller")
	}
}

func TestIsSubsetDistinguishedFromOverlapOnly(t *testing.T) {
	// git overlaps with the caller's set, but docker does not: an "any
	// overlap" check would wrongly call this ready.
	if isSubset([]string{"git", "docker"}, []string{"git", "make"}) {
		t.Error("isSubset() = true, want false: overlap alone isn't enough, every required tool must be present")
	}
}

func TestHasAnyTagTrueOnOverlap(t *testing.T) {
	if !hasAnyTag([]string{"backend", "urgent"}, []string{"urgent"}) {
		t.Error("hasAnyTag() = false, want true on overlap")
	}
}
