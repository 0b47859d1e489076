// Package broadcast orchestrates bulk template sends to every
// broadcast-eligible subscriber.
//
// Pages are fetched through a keyset cursor on the subscriber id, so inserts
// and opt-outs during a run can neither skip nor revisit rows. Pages are sent
// sequentially; a gateway failure on one page is retried a bounded number of
// times, logged, and never aborts the remaining pages. A store read failure
// is fatal to the run. Progress is observable only as whole pages sent, so a
// run interrupted between pages leaves no partial state and can resume from
// the reported cursor.
package broadcast
