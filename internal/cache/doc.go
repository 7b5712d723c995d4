// Package cache owns the on-disk icon directory (<support>/icon-cache). It
// allocates collision-free file names, streams downloads into sibling ".part"
// files and renames them into place, so a reader of a committed path never
// observes a partially written file. Name allocation, removal and rename run
// inside one short critical section; streaming bytes never holds the lock.
package cache
