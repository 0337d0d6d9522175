package procurement

import "github.com/shopspring/decimal"

// DeriveStatus maps net received quantity onto the progress statuses. It is
// re-run after every receipt and later return, so it moves both ways between
// partially and fully received. Administrative statuses are kept, and a total
// of zero or less keeps the current status.
func DeriveStatus(current Status, orderQuantity, totalReceived decimal.Decimal) Status {
	if current.IsAdministrative() || !totalReceived.IsPositive() {
		return current
	}
	if totalReceived.LessThan(orderQuantity) {
		return StatusPartiallyReceived
	}
	return StatusFullyReceived
}
