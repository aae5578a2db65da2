package bloodbank

const (
	TopicDonationRecorded  = "bloodbank.donation.recorded"
	TopicRequestSubmitted  = "bloodbank.request.submitted"
	TopicRequestApproved   = "bloodbank.request.approved"
	TopicRequestRejected   = "bloodbank.request.rejected"
	TopicApprovalShortfall = "bloodbank.request.shortfall"
)

// AllTopics is what the audit consumer subscribes to.
var AllTopics = []string{
	TopicDonationRecorded,
	TopicRequestSubmitted,
	TopicRequestApproved,
	TopicRequestRejected,
	TopicApprovalShortfall,
}

// Partition key = correlation id, so every event of one request keeps its order.
func PartitionKey(correlationID string) []byte { return []byte(correlationID) }
