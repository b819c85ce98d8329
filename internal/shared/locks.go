package shared

import "fmt"

// ReconcileLockKey builds the redis key guarding the kardex reconciliation run.
func ReconcileLockKey(scope string) string {
	return fmt.Sprintf("inventory:reconcile:%s:lock", scope)
}
