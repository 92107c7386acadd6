// Package datamodel holds the in-memory data store pipelines operate on.
//
// # Structure
//
// A DataContainerArray owns named DataContainers, each owning named
// AttributeMatrix values, each owning named arrays:
//
//	DataContainerArray
//	└── DataContainer "ImageDataContainer" (optional ImageGeometry)
//	    ├── AttributeMatrix "CellData"         (tuple dims 64x64x32, Cell)
//	    │   ├── Array[float32] "Confidence"    (1 component)
//	    │   └── Array[int32]   "FeatureIds"    (1 component)
//	    └── AttributeMatrix "CellFeatureData"  (tuple dims N, CellFeature)
//
// Every array of a matrix has exactly the matrix tuple count; resizing the
// matrix resizes all of its arrays. Arrays are generic over a closed set of
// scalar types (Element) and are also reachable through the type-erased
// DataArray interface.
//
// # Addressing
//
// DataArrayPath names an array as "container|matrix|array". Filters resolve
// their inputs with GetPrereqArray / GetPrereqArrayFromPath and allocate their
// outputs with CreateArray / CreateArrayFromPath, which return *errors.Error
// values whose Code is the filter error code to report.
//
// # Concurrency
//
// Nothing in this package locks. A store is owned by one pipeline run at a
// time; use Clone to hand an independent copy to another goroutine.
package datamodel
