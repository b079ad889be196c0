// Package subscription owns the billing state of a tenant: the subscription
// rows, the rules that move them between states and the quota they grant.
//
// The pieces:
//
//   - Transition is a pure function that, given the tenant's current row and
//     a billing Event, returns the row to persist plus side effects to run.
//   - Engine resolves tenants and processor snapshots, runs Transition inside
//     a transaction and performs the effects.
//   - Checker answers "may this tenant add another competitor?" without
//     writing anything.
//   - TrialManager starts and converts local trials and runs the expiration
//     Sweep.
//
// The tenant's current subscription is its most recently created row; see
// Store.Current.
package subscription
