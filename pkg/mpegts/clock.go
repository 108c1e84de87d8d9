package mpegts

import "time"

// nowMonotonicUs is the default PCR clock source: wall-clock
// microseconds, matching mcs::Utils::GetNowUs. Tests inject their own
// clock via New's nowUs parameter instead of relying on real time.
func nowMonotonicUs() int64 {
	return time.Now().UnixMicro()
}
