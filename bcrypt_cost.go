//go:build !race

package authclient

func passwordHashCost() int {
	return 12
}
