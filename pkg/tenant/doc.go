// Package tenant is the identity side of billing: it maps tenants to their
// contact email and to the payment processor customer that pays for them.
//
// The Directory interface is implemented by MemoryDirectory (tests, local
// runs) and PostgresDirectory. A tenant's customer id is write-once:
// SetCustomerID accepts the same value again but refuses a different one.
package tenant
