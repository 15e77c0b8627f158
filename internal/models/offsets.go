package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseOffsetRequest parses "0;45,1;25" into an offset request.
func ParseOffsetRequest(raw string) (OffsetRequest, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("offsets are required")
	}

	req := make(OffsetRequest)
	for _, pair := range strings.Split(raw, ",") {
		partitionStr, offsetStr, ok := strings.Cut(strings.TrimSpace(pair), ";")
		if !ok {
			return nil, fmt.Errorf("offset %q is not partition;offset", pair)
		}
		partition, err := strconv.ParseInt(partitionStr, 10, 32)
		if err != nil || partition < 0 {
			return nil, fmt.Errorf("invalid partition %q", partitionStr)
		}
		offset, err := strconv.ParseInt(offsetStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid offset %q", offsetStr)
		}
		req[int32(partition)] = offset
	}
	return req, nil
}
