package settlement

import "github.com/angelmondragon/marketplace-settlement/pkg/db/models"

// Amount is what the vendor earns for a sub-order: the vendor unit price
// times quantity, net of the line's allocated offer discount. The shipping
// markup charged to the customer is never vendor revenue, and a line can
// never contribute a negative amount.
func Amount(sub *models.SubOrder) int64 {
	if sub == nil {
		return 0
	}
	var total int64
	for _, item := range sub.Items {
		if item.Quantity <= 0 {
			continue
		}
		line := item.BasePriceCents*int64(item.Quantity) - item.OfferDiscountCents
		if line > 0 {
			total += line
		}
	}
	return total
}
