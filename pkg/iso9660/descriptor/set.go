package descriptor

// VolumeDescriptorSet is the ordered sequence of Volume Descriptors recorded starting at logical
// sector 16. Boot is present only when the image carries El Torito boot extensions; Joliet
// Supplementary and Partition descriptors are outside this library's scope.
type VolumeDescriptorSet struct {
	Boot       *BootRecordDescriptor
	Primary    *PrimaryVolumeDescriptor
	Terminator *VolumeDescriptorSetTerminator
}
