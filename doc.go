// Package elfimage builds ET_DYN ELF shared objects for an ahead-of-time
// compiler's native-image emitter: a .rodata/.text payload plus the
// program headers, dynamic section, and symbol/hash tables a standard
// dynamic linker needs to map it.
package elfimage
