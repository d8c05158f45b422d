/*
The sync package implements the mirroring algorithm. It makes a target
directory tree match a source directory tree.

A mirror pass has three steps:
1) Index -- Both trees are walked, and every entry is recorded by its path
   relative to the tree's root, along with its kind (file or directory) and
   the attributes used to decide whether two files are equal.
2) Diff -- The two indexes are compared, producing an ordered list of
   Operations. Deletions come first, deepest paths first, so that directories
   are always empty by the time they're removed. Creations follow, with every
   directory created before anything inside it.
3) Apply -- Each Operation is executed against the target root. A failed
   operation is reported and skipped; it never stops the rest of the pass.

Live changes use the same Operations. See the fswatch package for how
filesystem notifications are translated into them.
*/
package sync
