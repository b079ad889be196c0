// Package notification is the outbound notification queue.
//
// Producers record messages with Outbox (Enqueue, EnqueueBatch, Deliver).
// Rows are addressed to a tenant, name a template and carry template data;
// they are delivered no earlier than ScheduledFor. Enqueue calls made with a
// context carrying a pg transaction join that transaction, so a message is
// recorded if and only if the state change that produced it commits.
//
// Worker polls due rows, renders the template, sends it through an
// email.Sender and marks the row sent. Failed sends are retried with
// exponential backoff; after MaxAttempts the row is marked failed and copied
// to the dead-letter table.
package notification
