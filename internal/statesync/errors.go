package statesync

import "errors"

var (
	ErrAdvertisedDataError           = errors.New("advertised data error")
	ErrAlreadyBootstrapped           = errors.New("already bootstrapped")
	ErrBootstrapNotComplete          = errors.New("bootstrapping is not complete")
	ErrCallbackSendFailed            = errors.New("failed to send callback")
	ErrFullNodeConsensusNotification = errors.New("received a consensus notification on a full node")
	ErrIntegerOverflow               = errors.New("integer overflow")
	ErrNoDataStream                  = errors.New("no data stream")
	ErrNotifyMempoolError            = errors.New("failed to notify mempool")
	ErrEventNotificationError        = errors.New("failed to notify event subscribers")
	ErrOldSyncRequest                = errors.New("received an old sync request")
	ErrStorageError                  = errors.New("storage error")
	ErrSyncedBeyondTarget            = errors.New("synced beyond the target")
	ErrUnexpectedError               = errors.New("unexpected error")
	ErrVerificationError             = errors.New("verification error")
	ErrDataStreamTimeout             = errors.New("timed out waiting for a data stream notification")
	ErrInvalidPayload                = errors.New("invalid payload")
)

var errorLabels = []struct {
	err   error
	label string
}{
	{ErrAdvertisedDataError, "advertised_data_error"},
	{ErrAlreadyBootstrapped, "already_bootstrapped"},
	{ErrBootstrapNotComplete, "bootstrap_not_complete"},
	{ErrCallbackSendFailed, "callback_send_failed"},
	{ErrFullNodeConsensusNotification, "full_node_consensus_notification"},
	{ErrIntegerOverflow, "integer_overflow"},
	{ErrNoDataStream, "no_data_stream"},
	{ErrNotifyMempoolError, "notify_mempool_error"},
	{ErrEventNotificationError, "event_notification_error"},
	{ErrOldSyncRequest, "old_sync_request"},
	{ErrStorageError, "storage_error"},
	{ErrSyncedBeyondTarget, "synced_beyond_target"},
	{ErrVerificationError, "verification_error"},
	{ErrDataStreamTimeout, "data_stream_timeout"},
	{ErrInvalidPayload, "invalid_payload"},
}

// ErrorLabel maps err onto a stable label for metrics. Errors outside of
// this package's taxonomy are labelled "unexpected_error".
func ErrorLabel(err error) string {
	for _, l := range errorLabels {
		if errors.Is(err, l.err) {
			return l.label
		}
	}
	return "unexpected_error"
}
