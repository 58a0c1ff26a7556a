package notify

const (
	TopicOrderEvents     = "storefront.order.events"
	TopicInventoryEvents = "storefront.inventory.events"
)

// Topics lists everything the notifier subscribes to.
var Topics = []string{TopicOrderEvents, TopicInventoryEvents}

func TopicFor(k Kind) string {
	if k == KindLowStock {
		return TopicInventoryEvents
	}
	return TopicOrderEvents
}

// PartitionKey keeps every event of one order (or product) on one partition.
func PartitionKey(key string) []byte { return []byte(key) }
