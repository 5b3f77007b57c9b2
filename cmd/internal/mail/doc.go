// Package mail renders and delivers estate's transactional emails.
//
// Senders are synchronous and report a Result instead of an error so callers
// never branch on transport details. Request handlers go through Dispatcher,
// which queues messages and delivers them on background workers; a slow or
// failing SMTP relay never delays an HTTP response.
package mail
