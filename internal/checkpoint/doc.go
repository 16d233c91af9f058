// Package checkpoint records notebook state after each successful step and
// rolls the notebook back to an earlier step on demand.
//
// A checkpoint tracks which cells the task created and which it overwrote.
// Rolling back deletes the cells created since the target checkpoint, from
// the highest index down, then restores overwritten cells to their content
// before the overwrite. Rolling back to the same checkpoint twice is a no-op
// the second time.
package checkpoint
