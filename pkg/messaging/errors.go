// vantage-messenger - A CRM dashboard real-time messaging client.
// Copyright (C) 2026 Vantage CRM
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package messaging

import (
	"errors"
	"fmt"
)

// ErrTransportUnavailable is returned by operations that require the push
// channel while it is not connected. Sends fall back to REST-only in that
// case rather than failing.
var ErrTransportUnavailable = errors.New("push channel not connected")

// PersistError is the server's rejection of a durable send, decoded from
// the {success:false, message} payload.
type PersistError struct {
	Reason string
}

func (e *PersistError) Error() string {
	if e.Reason == "" {
		return "persist rejected"
	}
	return fmt.Sprintf("persist rejected: %s", e.Reason)
}

// HistoryFetchError wraps a failed history fetch; the conversation stays
// unseeded and the failure is surfaced as a notification.
type HistoryFetchError struct {
	Contact ContactKey
	Err     error
}

func (e *HistoryFetchError) Error() string {
	return fmt.Sprintf("history fetch for %s failed: %v", e.Contact, e.Err)
}

func (e *HistoryFetchError) Unwrap() error {
	return e.Err
}
