// Package model defines the annotation data model shared by every annogo
// component: the four geometric annotation variants, the fixed property
// schema of a source, and segment relationship declarations.
package model
