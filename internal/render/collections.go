package render

const goesTrueColor = "C02_2km_wm," +
	"0.45*C02_2km_wm+0.1*C03_2km_wm+0.45*C01_2km_wm," +
	"C01_2km_wm"

var terrain = Params{P("colormap_name", "terrain"), P("rescale", []int{-1000, 4000})}

func defaultCollections() map[string]Config {
	return map[string]Config{
		"3dep-seamless": NewConfig(8, terrain,
			WithAssets("data"), RequiresToken(), WithMosaicPreview(8, 47.1113, -120.8578)),
		"alos-dem": NewConfig(8, terrain,
			WithAssets("data"), RequiresToken(), WithMosaicPreview(8, 35.6837, 138.4281)),
		"aster-l1t": NewConfig(9,
			Params{P("asset_bidx", "VNIR|2,3,1"), P("nodata", 0)},
			WithAssets("VNIR"), WithMosaicPreview(9, 37.2141, -104.2947)),
		"chloris-biomass": NewConfig(2,
			Params{P("colormap_name", "chloris-biomass"), P("rescale", []int{1, 750000})},
			WithAssets("data"), RequiresToken(), WithMosaicPreview(2, 30.0572, 80.1735)),
		"cop-dem-glo-30": NewConfig(8, terrain,
			WithAssets("data"), RequiresToken(), WithMosaicPreview(8, 30.0572, 80.1735)),
		"cop-dem-glo-90": NewConfig(8, terrain,
			WithAssets("data"), RequiresToken(), WithMosaicPreview(8, 46.8776, 12.1444)),
		"gap": NewConfig(5,
			Params{P("tile_format", "png"), P("colormap_name", "gap-lulc")},
			WithAssets("data"), WithMosaicPreview(7, 26.7409, -80.9714)),
		"gnatsgo-rasters": NewConfig(4,
			Params{P("colormap_name", "cividis"), P("rescale", []int{0, 600})},
			WithAssets("aws0_100"), RequiresToken(), WithMosaicPreview(6, 44.1454, -112.6404)),
		"goes-cmi": NewConfig(2,
			Params{
				P("expression", goesTrueColor),
				P("nodata", -1),
				P("rescale", []int{1, 1000}),
				P("color_formula", "Gamma RGB 2.5 Saturation 1.4 Sigmoidal RGB 2 0.7"),
				P("resampling", "bilinear"),
			},
			WithMosaic(), RequiresToken(), WithMosaicPreview(4, 33.4872, -114.4842)),
		"hgb": NewConfig(2,
			Params{P("colormap_name", "greens"), P("nodata", 0), P("rescale", []int{0, 255})},
			WithAssets("aboveground"), WithMosaicPreview(9, -7.641129, 39.162521)),
		"hrea": NewConfig(3,
			Params{P("colormap_name", "magma"), P("rescale", []int{1, 200})},
			WithAssets("estimated-brightness"), WithMosaicPreview(3, 11.8280, 20.6367)),
		"io-lulc": NewConfig(4,
			Params{P("colormap_name", "io-lulc")},
			WithAssets("data"), WithMosaicPreview(4, -0.8749, 109.8456)),
		"io-lulc-9-class": NewConfig(4,
			Params{P("colormap_name", "io-lulc-9-class")},
			WithAssets("data"), WithMosaicPreview(4, -0.8749, 109.8456)),
		"jrc-gsw": NewConfig(4,
			Params{P("colormap_name", "jrc-occurrence"), P("nodata", 0)},
			WithAssets("occurrence"), WithMosaicPreview(10, 24.21647, 91.015209)),
		"landsat-8-c2-l2": NewConfig(8,
			Params{P("color_formula", "gamma RGB 2.7, saturation 1.5, sigmoidal RGB 15 0.55")},
			WithAssets("SR_B4", "SR_B3", "SR_B2"), RequiresToken(), WithMosaicPreview(11, 37.4069, 118.8188)),
		// no good visualization yet
		"mobi": NewConfig(3,
			Params{P("colormap_name", "magma"), P("nodata", 128), P("rescale", "0,1")},
			WithAssets("SpeciesRichness_All"), WithoutLinks(), RequiresToken(), WithMosaicPreview(4, 37.3052, -85.8457)),
		// COG size and format issues
		"mtbs": NewConfig(3,
			Params{P("colormap_name", "mtbs-severity")},
			WithAssets("burn-severity"), WithoutLinks(), WithMosaicPreview(9, 39.2234, -122.6932)),
		"naip": NewConfig(11,
			Params{P("asset_bidx", "image|1,2,3")},
			WithAssets("image"), WithMosaicPreview(13, 36.0891, -111.8577)),
		"nasadem": NewConfig(7,
			Params{P("colormap_name", "terrain"), P("rescale", []int{-100, 4000})},
			WithAssets("elevation"), WithMosaicPreview(7, -10.7270, -74.7620)),
		"nrcan-landcover": NewConfig(4,
			Params{P("colormap_name", "nrcan-lulc")},
			WithAssets("landcover"), RequiresToken(), WithMosaicPreview(7, 51.3913, -124.8087)),
		"sentinel-2-l2a": NewConfig(9,
			Params{P("asset_bidx", "visual|1,2,3"), P("nodata", 0)},
			WithAssets("visual"), RequiresToken(), WithMosaicPreview(9, -16.4940, 124.0274)),
	}
}
