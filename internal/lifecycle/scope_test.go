package lifecycle

import "testing"

func TestCleanupScopeRunsExactlyOnce(t *testing.T) {
	calls := 0
	scope := &cleanupScope{fn: func() { calls++ }}

	scope.Run()
	scope.Run()
	scope.Run()

	if calls != 1 {
		t.Fatalf("cleanup ran %d times, want 1", calls)
	}
}
