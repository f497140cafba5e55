package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaOutflowExceeded  = errors.New("quota outflow cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current usage counters for an address within one
// epoch window.
type QuotaNow struct {
	ReqCount    uint32
	OutflowUsed uint64
	EpochID     uint64
}

// Quota defines the per-address limits enforced for vault interactions: how
// many requests an epoch may carry and how much base asset may flow out.
// Zero limits disable the corresponding check.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxOutflowPerEpoch  uint64
	EpochSeconds        uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 || q.MaxOutflowPerEpoch > 0
}

// CheckQuota verifies whether the additional request and outflow fit within
// the configured quota. The returned QuotaNow reflects the updated counters
// when the quota is not exceeded; counters reset when the epoch rolls over.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addOutflow uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addOutflow > 0 {
		if next.OutflowUsed > math.MaxUint64-addOutflow {
			return prev, ErrQuotaCounterOverflow
		}
		next.OutflowUsed += addOutflow
	}
	if q.MaxOutflowPerEpoch > 0 && next.OutflowUsed > q.MaxOutflowPerEpoch {
		return prev, ErrQuotaOutflowExceeded
	}

	return next, nil
}
